package server

import (
	"time"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/playback"
)

// Message types sent over the websocket.
const (
	MessageState  = "state"
	MessageFrame  = "frame"
	MessageError  = "error"
	MessageReload = "reload"
)

// Message is one websocket update.
type Message struct {
	Type      string          `json:"type"`
	State     *playback.State `json:"state,omitempty"`
	Frame     *FramePayload   `json:"frame,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FramePayload announces a rendered frame. URL fetches it.
type FramePayload struct {
	Frame      int    `json:"frame"`
	Generation uint64 `json:"generation"`
	URL        string `json:"url"`
}

// ErrorPayload is the browser-facing shape of a failure.
type ErrorPayload struct {
	Code        string   `json:"code"`
	Type        string   `json:"type,omitempty"`
	Message     string   `json:"message"`
	Frame       *int     `json:"frame,omitempty"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// StateResponse is returned by every playback endpoint.
type StateResponse struct {
	playback.State
	Generation uint64        `json:"generation"`
	Error      *ErrorPayload `json:"error,omitempty"`
}

func newErrorPayload(err error, templatePath string) *ErrorPayload {
	if err == nil {
		return nil
	}

	p := &ErrorPayload{
		Code:    errors.CodeOf(err),
		Type:    string(errors.TypeOf(err)),
		Message: err.Error(),
	}
	if p.Code == "" {
		p.Code = errors.ErrCodeInternalError
	}

	var re *errors.TemplateRuntimeError
	if errors.As(err, &re) {
		frame := re.Details.Frame
		p.Frame = &frame
	}

	var fe *errors.FramecastError
	if errors.As(err, &fe) {
		p.File = fe.FilePath
		p.Line = fe.Line
		p.Column = fe.Column
	}

	for _, s := range errors.SuggestionsFor(err, &errors.SuggestionContext{TemplatePath: templatePath}) {
		p.Suggestions = append(p.Suggestions, s.Title+": "+s.Description)
	}

	return p
}
