package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/runlayer/coordinator/internal/models"
)

// Stub activity functions — never invoked directly, only registered so the
// test environment recognizes the string activity names used by
// workflow.ExecuteActivity; s.env.OnActivity overrides the real behavior.

func MarkTaskRunning(_ context.Context, _ MarkTaskRunningInput) error { panic("stub: should be mocked") }
func RunInProcess(_ context.Context, _ RunInProcessInput) (RunInProcessOutput, error) {
	panic("stub: should be mocked")
}
func DispatchRemoteRun(_ context.Context, _ DispatchRemoteRunInput) error {
	panic("stub: should be mocked")
}
func RecordTerminal(_ context.Context, _ RecordTerminalInput) error { panic("stub: should be mocked") }

type TaskWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestTaskWorkflowSuite(t *testing.T) {
	suite.Run(t, new(TaskWorkflowTestSuite))
}

func (s *TaskWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivity(MarkTaskRunning)
	s.env.RegisterActivity(RunInProcess)
	s.env.RegisterActivity(DispatchRemoteRun)
	s.env.RegisterActivity(RecordTerminal)
}

func (s *TaskWorkflowTestSuite) AfterTest(string, string) {
	s.env.AssertExpectations(s.T())
}

func baseInput() TaskWorkflowInput {
	return TaskWorkflowInput{
		TaskID: "task_1", WorkspaceID: "ws_1", ActorID: "actor_1",
		Code: `result = 1`, RuntimeID: RuntimeInProcess, TimeoutMs: 30000,
	}
}

func (s *TaskWorkflowTestSuite) TestInProcess_CompletesSuccessfully() {
	s.env.OnActivity("MarkTaskRunning", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("RunInProcess", mock.Anything, mock.Anything).
		Return(RunInProcessOutput{Result: "ok"}, nil).Once()
	s.env.OnActivity("RecordTerminal", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.ExecuteWorkflow(TaskWorkflow, baseInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	require.NoError(s.T(), s.env.GetWorkflowError())

	var result TaskResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.TaskStatusCompleted, result.Status)
	assert.Equal(s.T(), "ok", result.Result)
}

func (s *TaskWorkflowTestSuite) TestInProcess_DeniedToolCallProducesDeniedStatus() {
	s.env.OnActivity("MarkTaskRunning", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("RunInProcess", mock.Anything, mock.Anything).
		Return(RunInProcessOutput{Error: "APPROVAL_DENIED: approval_x", Denied: true}, nil).Once()
	s.env.OnActivity("RecordTerminal", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.ExecuteWorkflow(TaskWorkflow, baseInput())

	require.True(s.T(), s.env.IsWorkflowCompleted())
	var result TaskResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.TaskStatusDenied, result.Status)
}

func (s *TaskWorkflowTestSuite) TestRemote_CompleteRunUpdateResolvesWorkflow() {
	input := baseInput()
	input.RuntimeID = "remote-sandbox-1"

	s.env.OnActivity("MarkTaskRunning", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("DispatchRemoteRun", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("RecordTerminal", mock.Anything, mock.Anything).Return(nil).Once()

	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateCompleteRun, "update-1", &testsuite.TestUpdateCallback{
			OnAccept: func() {},
			OnReject: func(err error) { s.Fail("complete_run should be accepted", err.Error()) },
			OnComplete: func(result interface{}, err error) {
				require.NoError(s.T(), err)
				resp, ok := result.(CompleteRunResponse)
				require.True(s.T(), ok)
				assert.False(s.T(), resp.AlreadyFinal)
			},
		}, CompleteRunRequest{RunID: "task_1", Status: models.TaskStatusCompleted, Result: "done"})
	}, 0)

	s.env.ExecuteWorkflow(TaskWorkflow, input)

	require.True(s.T(), s.env.IsWorkflowCompleted())
	var result TaskResult
	require.NoError(s.T(), s.env.GetWorkflowResult(&result))
	assert.Equal(s.T(), models.TaskStatusCompleted, result.Status)
	assert.Equal(s.T(), "done", result.Result)
}

func (s *TaskWorkflowTestSuite) TestRemote_CompleteRunMismatchedRunIDRejected() {
	input := baseInput()
	input.RuntimeID = "remote-sandbox-1"

	s.env.OnActivity("MarkTaskRunning", mock.Anything, mock.Anything).Return(nil).Once()
	s.env.OnActivity("DispatchRemoteRun", mock.Anything, mock.Anything).Return(nil).Once()

	var rejected bool
	s.env.RegisterDelayedCallback(func() {
		s.env.UpdateWorkflow(UpdateCompleteRun, "update-2", &testsuite.TestUpdateCallback{
			OnAccept: func() { s.Fail("mismatched runId should not be accepted") },
			OnReject: func(err error) {
				require.Error(s.T(), err)
				rejected = true
			},
			OnComplete: func(interface{}, error) {},
		}, CompleteRunRequest{RunID: "task_other", Status: models.TaskStatusCompleted})
	}, 0)
	s.env.RegisterDelayedCallback(func() { s.env.CancelWorkflow() }, 0)

	s.env.ExecuteWorkflow(TaskWorkflow, input)

	assert.True(s.T(), rejected)
}
