package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler serves the aggregator's totals over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "stats-handler"),
	}
}

// Stats answers GET /api/v1/stats. ?project=<name> narrows the answer to
// one project's totals and ?top=<n> sizes the busiest-projects list.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if project := params.Get("project"); project != "" {
		totals, ok := h.aggregator.Project(project)
		if !ok {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no searches recorded for project " + project})
			return
		}
		h.writeJSON(w, http.StatusOK, totals)
		return
	}

	top := defaultTopProjects
	if s := params.Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "top must be a positive integer"})
			return
		}
		top = min(n, maxTopProjects)
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.Snapshot(top))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write stats response", "error", err)
	}
}
