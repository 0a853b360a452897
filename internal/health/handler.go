package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"algodesk/internal/httputil"
	"algodesk/internal/types"

	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionState interface {
	State() types.SessionState
}

type PollerStats interface {
	Cycles() int64
	Running() bool
	Symbol() string
}

type Handler struct {
	session   SessionState
	poller    PollerStats
	journal   types.JournalDriver
	pool      *pgxpool.Pool
	startedAt time.Time
}

// NewHandler builds the health endpoint. pool may be nil when the journal
// does not use Postgres.
func NewHandler(session SessionState, poller PollerStats, journal types.JournalDriver, pool *pgxpool.Pool, startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{session: session, poller: poller, journal: journal, pool: pool, startedAt: start}
}

type healthResponse struct {
	Status     string        `json:"status"`
	Timestamp  string        `json:"timestamp"`
	UptimeSec  int64         `json:"uptime_sec"`
	Uptime     string        `json:"uptime"`
	Session    string        `json:"session"`
	Poller     pollerStats   `json:"poller"`
	Journal    string        `json:"journal"`
	Database   *databaseStat `json:"database,omitempty"`
	Goroutines int           `json:"goroutines"`
}

type pollerStats struct {
	Running bool   `json:"running"`
	Cycles  int64  `json:"cycles"`
	Symbol  string `json:"symbol"`
}

type databaseStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) pingDB(ctx context.Context) *databaseStat {
	if h.pool == nil {
		return nil
	}
	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := h.pool.Ping(pingCtx)
	cancel()
	stat := &databaseStat{Reachable: err == nil, PingMs: time.Since(start).Milliseconds()}
	if err != nil {
		stat.Error = err.Error()
	}
	return stat
}

// Get answers 503 only when a configured database is unreachable. A logged
// out session is a normal state, not a failure.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	resp := healthResponse{
		Status:     "ok",
		Timestamp:  now.Format(time.RFC3339),
		UptimeSec:  int64(uptime.Seconds()),
		Uptime:     uptime.Truncate(time.Second).String(),
		Session:    string(h.session.State()),
		Journal:    string(h.journal),
		Database:   h.pingDB(r.Context()),
		Goroutines: runtime.NumGoroutine(),
	}
	if h.poller != nil {
		resp.Poller = pollerStats{Running: h.poller.Running(), Cycles: h.poller.Cycles(), Symbol: h.poller.Symbol()}
	}
	status := http.StatusOK
	if resp.Database != nil && !resp.Database.Reachable {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
