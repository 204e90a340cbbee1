package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// handleStep implements POST /api/step/:name, running one workflow step with
// the request body as its JSON input and returning the step's structured
// result. Step names match the workflow step names plus complete_book for the
// terminal audit.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.steps == nil {
		http.Error(w, "Step service not available", http.StatusServiceUnavailable)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/step/")
	switch name {
	case "plan":
		runStep(s, w, r, s.steps.Plan)
	case "draft_chapter":
		runStep(s, w, r, s.steps.DraftChapter)
	case "segment_scenes":
		runStep(s, w, r, s.steps.SegmentScenes)
	case "create_characters":
		runStep(s, w, r, s.steps.CreateCharacters)
	case "create_environments":
		runStep(s, w, r, s.steps.CreateEnvironments)
	case "scene_manifest":
		runStep(s, w, r, s.steps.SceneManifest)
	case "render_scene":
		runStep(s, w, r, s.steps.RenderScene)
	case "complete_book":
		runStep(s, w, r, s.steps.CompleteBook)
	default:
		http.Error(w, "Unknown step: "+name, http.StatusNotFound)
	}
}

// stepResult is satisfied by every step result through its embedded outcome.
type stepResult interface {
	Failed() bool
}

// runStep decodes the request body, runs the handler, and writes its result.
// A failed outcome maps to 422 so clients can tell a rejected step from a
// transport error; the body always carries the full structured result.
func runStep[In any, Out stepResult](s *Server, w http.ResponseWriter, r *http.Request, run func(context.Context, In) Out) {
	var in In
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	out := run(r.Context(), in)

	w.Header().Set("Content-Type", "application/json")
	if out.Failed() {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Error("failed to encode step result: %v", err)
	}
}
