package errors

import (
	"encoding/json"
	"fmt"
)

// CodeTemplateRuntime is the code carried by every TemplateRuntimeError.
const CodeTemplateRuntime = "TEMPLATE_RUNTIME_ERROR"

const maxSnapshotChars = 512

// TimeSnapshot is the normalized time of the failing frame.
type TimeSnapshot struct {
	SceneTimeSeconds float64 `json:"sceneTimeSeconds"`
	SceneProgress    float64 `json:"sceneProgress"`
}

// RuntimeDetails carries enough state to reproduce a failed frame.
type RuntimeDetails struct {
	Frame        int                    `json:"frame"`
	TimeContext  TimeSnapshot           `json:"timeContext"`
	DataSnapshot map[string]interface{} `json:"dataSnapshot,omitempty"`
}

// TemplateRuntimeError is returned when a template's render function throws
// while a frame is being produced. It aborts the whole job.
type TemplateRuntimeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details RuntimeDetails `json:"details"`
	Cause   error          `json:"-"`
}

// NewTemplateRuntimeError wraps cause with the frame's time context and a
// copy of the template input data. The snapshot is deep-copied so later
// mutation by the template cannot alter the report.
func NewTemplateRuntimeError(cause error, frame int, sceneTime, sceneProgress float64, data map[string]interface{}) *TemplateRuntimeError {
	message := "template render failed"
	if cause != nil {
		message = cause.Error()
	}

	return &TemplateRuntimeError{
		Code:    CodeTemplateRuntime,
		Message: message,
		Details: RuntimeDetails{
			Frame: frame,
			TimeContext: TimeSnapshot{
				SceneTimeSeconds: sceneTime,
				SceneProgress:    sceneProgress,
			},
			DataSnapshot: SnapshotData(data),
		},
		Cause: cause,
	}
}

// Error implements the error interface. The message always names the frame
// and its normalized time so the failure can be reproduced in isolation.
func (e *TemplateRuntimeError) Error() string {
	msg := fmt.Sprintf("[%s] frame %d (t=%.3fs, progress=%.4f): %s",
		e.Code,
		e.Details.Frame,
		e.Details.TimeContext.SceneTimeSeconds,
		e.Details.TimeContext.SceneProgress,
		e.Message,
	)

	if len(e.Details.DataSnapshot) > 0 {
		if raw, err := json.Marshal(e.Details.DataSnapshot); err == nil {
			snapshot := string(raw)
			if len(snapshot) > maxSnapshotChars {
				snapshot = snapshot[:maxSnapshotChars] + "...[TRUNCATED]"
			}
			msg += " data=" + snapshot
		}
	}

	return msg
}

// Unwrap returns the underlying render failure.
func (e *TemplateRuntimeError) Unwrap() error {
	return e.Cause
}

// JSON renders the error in its wire shape.
func (e *TemplateRuntimeError) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// SnapshotData deep-copies template input data through its JSON form.
// Values that do not survive JSON are replaced by their fmt representation.
func SnapshotData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		out := make(map[string]interface{}, len(data))
		for k, v := range data {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	}

	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}
