package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubmission_EmptyCodeRejected(t *testing.T) {
	reason := validateSubmission(SubmitRequest{Code: "", RuntimeID: RuntimeInProcess}, map[string]bool{RuntimeInProcess: true})
	assert.Contains(t, reason, "code")
}

func TestValidateSubmission_UnknownRuntimeRejected(t *testing.T) {
	reason := validateSubmission(SubmitRequest{Code: "x", RuntimeID: "nope"}, map[string]bool{RuntimeInProcess: true})
	assert.Contains(t, reason, "nope")
}

func TestValidateSubmission_ValidPasses(t *testing.T) {
	reason := validateSubmission(SubmitRequest{Code: "x", RuntimeID: RuntimeInProcess}, map[string]bool{RuntimeInProcess: true})
	assert.Empty(t, reason)
}

func TestOutputToResult_Success(t *testing.T) {
	result := outputToResult(RunInProcessOutput{Result: "ok"})
	assert.Equal(t, "ok", result.Result)
}

func TestOutputToResult_Denied(t *testing.T) {
	result := outputToResult(RunInProcessOutput{Error: "APPROVAL_DENIED: x", Denied: true})
	assert.Equal(t, "APPROVAL_DENIED: x", result.Error)
}
