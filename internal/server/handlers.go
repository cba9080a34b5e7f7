package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/framecast/internal/checkpoint"
)

// Error codes returned by the HTTP API.
const (
	codeBadRequest = "BAD_REQUEST"
	codeNotFound   = "NOT_FOUND"
	codeNotReady   = "NOT_READY"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type renderingResponse struct {
	Status string `json:"status"`
	Frame  int    `json:"frame"`
}

type checkpointResponse struct {
	Checkpoint checkpoint.Checkpoint `json:"checkpoint"`
	State      StateResponse         `json:"state"`
}

type checkpointsResponse struct {
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

func (s *Server) stateResponse() StateResponse {
	return StateResponse{
		State:      s.store.State(),
		Generation: s.session.Generation(),
		Error:      s.LastError(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"ready":   s.session.Plan() != nil,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stateResponse())
}

// action adapts a store method without arguments into a handler.
func (s *Server) action(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		writeJSON(w, http.StatusOK, s.stateResponse())
	}
}

// frameAction adapts a store method taking the ?frame= parameter.
func (s *Server) frameAction(fn func(int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frame, err := strconv.Atoi(r.URL.Query().Get("frame"))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "frame must be an integer")
			return
		}
		fn(frame)
		writeJSON(w, http.StatusOK, s.stateResponse())
	}
}

// handleFrame serves a cached frame as PNG. A miss queues the frame and
// answers 202 so the page can wait for the frame message.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame, err := strconv.Atoi(chi.URLParam(r, "frame"))
	if err != nil || frame < 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid frame number")
		return
	}

	p := s.session.Plan()
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, codeNotReady, "no template loaded")
		return
	}
	if frame >= p.TotalFrames {
		writeError(w, http.StatusNotFound, codeNotFound, "frame out of range")
		return
	}

	if data, ok := s.store.CachedFrame(frame); ok {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	s.session.Request(frame)
	writeJSON(w, http.StatusAccepted, renderingResponse{Status: "rendering", Frame: frame})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps := s.session.Checkpoints().All()
	if cps == nil {
		cps = []checkpoint.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, checkpointsResponse{Checkpoints: cps})
}

func (s *Server) handleCheckpointJump(w http.ResponseWriter, r *http.Request) {
	current := s.store.State().CurrentFrame
	resolver := s.session.Checkpoints()

	var (
		cp checkpoint.Checkpoint
		ok bool
	)
	switch chi.URLParam(r, "direction") {
	case "next":
		cp, ok = resolver.GetNext(current)
	case "previous", "prev":
		cp, ok = resolver.GetPrevious(current)
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "direction must be next or previous")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "no checkpoint in that direction")
		return
	}

	s.store.SetFrame(cp.Frame)
	writeJSON(w, http.StatusOK, checkpointResponse{Checkpoint: cp, State: s.stateResponse()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Page(s.opts.TemplatePath).Render(r.Context(), w); err != nil {
		s.logger.Error(r.Context(), err, "Failed to render player page")
	}
}
