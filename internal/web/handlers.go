package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/justestif/go-listening-stats/internal/aggregate"
	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/ingest"
	"github.com/justestif/go-listening-stats/internal/lock"
	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/stats"
)

// Ingester runs one ingestion pass.
type Ingester interface {
	Run(ctx context.Context) (*ingest.Result, error)
}

// Aggregator rebuilds daily stats.
type Aggregator interface {
	AggregateRecent(ctx context.Context, now time.Time) (*aggregate.Result, error)
	AggregateRange(ctx context.Context, start, end time.Time) (*aggregate.Result, error)
}

// StatsQuerier answers range queries.
type StatsQuerier interface {
	Query(ctx context.Context, start, end time.Time) (*stats.Response, error)
}

// Pinger checks the database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	ingester    Ingester
	aggregator  Aggregator
	stats       StatsQuerier
	db          Pinger
	cacheMaxAge time.Duration
	now         func() time.Time
	validate    *validator.Validate
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithCacheMaxAge sets the max-age of successful stats responses.
func WithCacheMaxAge(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.cacheMaxAge = d
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		h.now = now
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ing Ingester, agg Aggregator, st StatsQuerier, db Pinger, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		ingester:    ing,
		aggregator:  agg,
		stats:       st,
		db:          db,
		cacheMaxAge: time.Hour,
		now:         time.Now,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type success struct {
	Success   bool  `json:"success"`
	ElapsedMS int64 `json:"elapsed_ms"`
	Result    any   `json:"result"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// rangeParams are the query parameters of a date range.
type rangeParams struct {
	Start string `validate:"required,datetime=2006-01-02"`
	End   string `validate:"required,datetime=2006-01-02"`
}

// TriggerPlays runs one ingestion pass (POST /api/cron/plays).
func (h *Handlers) TriggerPlays(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	res, err := h.ingester.Run(r.Context())
	if err != nil {
		h.writeJobError(w, r, "plays", err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, ElapsedMS: time.Since(start).Milliseconds(), Result: res})
}

// TriggerDailyStats rebuilds recent days (POST /api/cron/daily-stats). With
// start and end query parameters it rebuilds that range instead.
func (h *Handlers) TriggerDailyStats(w http.ResponseWriter, r *http.Request) {
	began := time.Now()

	var (
		res *aggregate.Result
		err error
	)
	if q := r.URL.Query(); q.Has("start") || q.Has("end") {
		start, end, perr := h.parseRange(r)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, failure{Error: perr.Error()})
			return
		}
		res, err = h.aggregator.AggregateRange(r.Context(), start, end)
	} else {
		res, err = h.aggregator.AggregateRecent(r.Context(), h.now())
	}
	if err != nil {
		h.writeJobError(w, r, "daily", err)
		return
	}
	writeJSON(w, http.StatusOK, success{Success: true, ElapsedMS: time.Since(began).Milliseconds(), Result: res})
}

func (h *Handlers) writeJobError(w http.ResponseWriter, r *http.Request, job string, err error) {
	if errors.Is(err, lock.ErrHeld) {
		writeJSON(w, http.StatusConflict, failure{Error: err.Error()})
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Str("job", job).Msg("triggered job failed")
	writeJSON(w, http.StatusInternalServerError, failure{Error: err.Error()})
}

// Stats answers a range query (GET /api/stats?start=YYYY-MM-DD&end=YYYY-MM-DD).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.parseRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure{Error: err.Error()})
		return
	}

	resp, err := h.stats.Query(r.Context(), start, end)
	switch {
	case errors.Is(err, buckets.ErrInvalidRange), errors.Is(err, stats.ErrRangeTooLarge):
		writeJSON(w, http.StatusBadRequest, failure{Error: err.Error()})
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Msg("stats query failed")
		writeJSON(w, http.StatusInternalServerError, failure{Error: "internal error"})
		return
	}

	if h.cacheMaxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.cacheMaxAge.Seconds())))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health pings the database (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseRange reads and validates the start and end query parameters.
func (h *Handlers) parseRange(r *http.Request) (time.Time, time.Time, error) {
	p := rangeParams{
		Start: r.URL.Query().Get("start"),
		End:   r.URL.Query().Get("end"),
	}
	if err := h.validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid %s: want YYYY-MM-DD", strings.ToLower(verrs[0].Field()))
		}
		return time.Time{}, time.Time{}, err
	}

	start, err := buckets.ParseDate(p.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := buckets.ParseDate(p.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, buckets.ErrInvalidRange
	}
	return start, end, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding response")
	}
}
