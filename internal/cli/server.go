package cli

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/descriptor"
	"github.com/gogpu/gputypes"
)

// descriptorSetView is the JSON form of one global descriptor set.
type descriptorSetView struct {
	gpures.DescriptorSetSnapshot
	Layout []gputypes.BindGroupLayoutEntry `json:"layout"`
}

// newRouter serves read-only JSON views of the engine state.
func newRouter(e *gpures.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"frame": e.Device().FrameCount()})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Snapshot())
		})
		r.Get("/frame", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.LastFrame())
		})
		r.Get("/graphs", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Snapshot().Graphs)
		})
		r.Get("/graphs/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			for _, g := range e.Snapshot().Graphs {
				if g.Name == name {
					writeJSON(w, http.StatusOK, g)
					return
				}
			}
			writeError(w, http.StatusNotFound, "graph not found: "+name)
		})
		r.Get("/descriptors/{name}", func(w http.ResponseWriter, req *http.Request) {
			name := chi.URLParam(req, "name")
			for _, d := range e.Snapshot().DescriptorSets {
				if d.Name == name {
					writeJSON(w, http.StatusOK, descriptorSetView{
						DescriptorSetSnapshot: d,
						Layout:                descriptor.LayoutEntries(e.Descriptors().Bindings(d.Handles[0])),
					})
					return
				}
			}
			writeError(w, http.StatusNotFound, "descriptor set not found: "+name)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
