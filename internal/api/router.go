package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"

	"BillScanner/internal/domain"
)

var errNotFound = errors.New("not found")

// Dataset yields the enriched records of the run being served.
type Dataset interface {
	LoadEnriched() ([]domain.EnrichedRecord, error)
}

// BillSummary is the list view of one bill.
type BillSummary struct {
	ID          string `json:"bill_number"`
	Title       string `json:"bill_title"`
	Status      string `json:"bill_status"`
	Sponsor     string `json:"sponsor"`
	IssueCount  int    `json:"issue_count"`
	DetailLabel string `json:"detail_label"`
}

// BillDetail is the full view of one bill.
type BillDetail struct {
	domain.EnrichedRecord
	DetailLabel string `json:"detail_label"`
}

// Count pairs a label with a number for the stats endpoints.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type router struct {
	data   Dataset
	logger *slog.Logger
}

// NewRouter serves the enriched dataset read-only.
func NewRouter(data Dataset, allowedOrigins []string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &router{data: data, logger: logger}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/bills", r.wrap(r.handleBills))
	mux.Get("/bills/{id}", r.wrap(r.handleBill))
	mux.Get("/stats/issue-types", r.wrap(r.handleIssueTypes))
	mux.Get("/stats/sponsors", r.wrap(r.handleSponsors))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, errNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			r.logger.Error("request failed", "path", req.URL.Path, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

// GET /bills?status=LAW&sponsor=...&sort=issues
func (r *router) handleBills(w http.ResponseWriter, req *http.Request) error {
	records, err := r.data.LoadEnriched()
	if err != nil {
		return err
	}

	q := req.URL.Query()
	status, sponsor := q.Get("status"), q.Get("sponsor")

	filtered := make([]domain.EnrichedRecord, 0, len(records))
	for _, rec := range records {
		if status != "" && !strings.EqualFold(rec.Status, status) {
			continue
		}
		if sponsor != "" && !strings.Contains(strings.ToLower(rec.Sponsor), strings.ToLower(sponsor)) {
			continue
		}
		filtered = append(filtered, rec)
	}

	switch q.Get("sort") {
	case "issues":
		domain.SortEnriched(filtered)
	case "id":
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].ID < filtered[j].ID })
	}

	out := make([]BillSummary, 0, len(filtered))
	for _, rec := range filtered {
		out = append(out, BillSummary{
			ID:          rec.ID,
			Title:       rec.Title,
			Status:      rec.Status,
			Sponsor:     rec.Sponsor,
			IssueCount:  rec.IssueCount,
			DetailLabel: rec.DetailLabel(),
		})
	}
	return writeJSON(w, out)
}

// GET /bills/{id}
func (r *router) handleBill(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	records, err := r.data.LoadEnriched()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if strings.EqualFold(rec.ID, id) {
			return writeJSON(w, BillDetail{EnrichedRecord: rec, DetailLabel: rec.DetailLabel()})
		}
	}
	return errNotFound
}

// GET /stats/issue-types?top=20
func (r *router) handleIssueTypes(w http.ResponseWriter, req *http.Request) error {
	records, err := r.data.LoadEnriched()
	if err != nil {
		return err
	}

	counts := map[string]int{}
	for _, rec := range records {
		for _, f := range rec.Findings() {
			if f.Issue != "" {
				counts[f.Issue]++
			}
		}
	}
	return writeJSON(w, topCounts(counts, topParam(req)))
}

// GET /stats/sponsors?top=20
func (r *router) handleSponsors(w http.ResponseWriter, req *http.Request) error {
	records, err := r.data.LoadEnriched()
	if err != nil {
		return err
	}

	counts := map[string]int{}
	for _, rec := range records {
		counts[rec.Sponsor] += rec.IssueCount
	}
	return writeJSON(w, topCounts(counts, topParam(req)))
}

func topParam(req *http.Request) int {
	n, err := strconv.Atoi(req.URL.Query().Get("top"))
	if err != nil || n <= 0 {
		return 20
	}
	return n
}

func topCounts(counts map[string]int, top int) []Count {
	out := make([]Count, 0, len(counts))
	for label, n := range counts {
		out = append(out, Count{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > top {
		out = out[:top]
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
