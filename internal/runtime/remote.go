package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// RunCallback tells a remote sandbox worker where and how to call back
// completeRun/handleToolCall, per spec §4.F "Remote sandbox runtime".
type RunCallback struct {
	URL            string `json:"url"`
	InternalSecret string `json:"internalSecret"`
}

// RunRequest is the payload POSTed to a remote sandbox worker to start a run.
type RunRequest struct {
	TaskID    string      `json:"taskId"`
	Code      string      `json:"code"`
	TimeoutMs int64       `json:"timeoutMs"`
	Callback  RunCallback `json:"callback"`
}

const dispatchTimeout = 10 * time.Second

// RemoteDispatcher POSTs a RunRequest to the configured sandbox worker and
// returns as soon as the worker acknowledges receipt — the worker itself
// calls back completeRun/handleToolCall asynchronously over HTTP (spec
// §4.F). It does not wait for task completion.
type RemoteDispatcher struct {
	WorkerURL      string
	InternalSecret string
	CallbackBase   string
	HTTP           *http.Client
}

func NewRemoteDispatcher(workerURL, callbackBase, internalSecret string) *RemoteDispatcher {
	return &RemoteDispatcher{
		WorkerURL:      workerURL,
		InternalSecret: internalSecret,
		CallbackBase:   callbackBase,
		HTTP:           &http.Client{Timeout: dispatchTimeout},
	}
}

// Dispatch POSTs the run request and returns once the worker has
// acknowledged the task (2xx); it does not await task completion.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, taskID, code string, timeoutMs int64) error {
	req := RunRequest{
		TaskID:    taskID,
		Code:      code,
		TimeoutMs: timeoutMs,
		Callback: RunCallback{
			URL:            d.CallbackBase,
			InternalSecret: d.InternalSecret,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WorkerURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch to sandbox worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox worker rejected run request: status %d", resp.StatusCode)
	}
	return nil
}
