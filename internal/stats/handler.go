package stats

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuxdigital/activitytrack/internal/store"
)

// Handler serves the stats and export endpoints:
//
//	GET /api/stats
//	GET /api/export/json?sessionId=&startDate=&endDate=
//	GET /api/export/csv?sessionId=&startDate=&endDate=
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler for stats and exports.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		logger:  logger.With("component", "stats-handler"),
	}
}

// ServeHTTP routes by path so the handler can be mounted under both
// /api/stats and /api/export/.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/stats":
		h.handleStats(w, r)
	case "/api/export/json":
		h.handleExportJSON(w, r)
	case "/api/export/csv":
		h.handleExportCSV(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Report(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (h *Handler) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="events.json"`)

	if err := h.service.ExportJSON(r.Context(), exportFilter(r), w); err != nil {
		// Headers are already out; log and cut the stream short.
		h.logger.Error("json export failed", "error", err)
	}
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)

	if err := h.service.ExportCSV(r.Context(), exportFilter(r), w); err != nil {
		h.logger.Error("csv export failed", "error", err)
	}
}

// exportFilter builds an event filter from the export query parameters.
// Unparseable dates are ignored rather than rejected.
func exportFilter(r *http.Request) store.Filter {
	q := r.URL.Query()
	f := store.Filter{SessionID: q.Get("sessionId")}

	if t, _, ok := parseDate(q.Get("startDate")); ok {
		f.Start = t
	}
	if t, dateOnly, ok := parseDate(q.Get("endDate")); ok {
		if dateOnly {
			// A bare end date means the whole of that day.
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.End = t
	}
	return f
}

// parseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates.
func parseDate(s string) (t time.Time, dateOnly, ok bool) {
	if s == "" {
		return time.Time{}, false, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, true
	}
	return time.Time{}, false, false
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
