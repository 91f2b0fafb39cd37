package http

import (
	"net/http"
	"time"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":      "/health",
		"ready":       "/ready",
		"metrics":     "/metrics",
		"leaderboard": "/api/v1/leaderboard",
		"user":        "/api/v1/users/{id}",
	}
	if len(s.config.APIKeys) > 0 {
		endpoints["sync"] = "POST /api/v1/admin/sync"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "SonnyBot",
		"endpoints": endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"healthy": true,
			"uptime":  s.Uptime().Round(time.Second).String(),
		})
		return
	}

	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if status := s.deps.Health.Check(r.Context()); !status.Ready {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// commandMetrics is the JSON form of one command's metrics.
type commandMetrics struct {
	Name          string  `json:"name"`
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxDurationMS float64 `json:"max_duration_ms"`
}

// jobMetrics is the JSON form of one scheduled job.
type jobMetrics struct {
	Name       string    `json:"name"`
	Interval   string    `json:"interval"`
	NextRun    time.Time `json:"next_run,omitempty"`
	RunCount   int64     `json:"run_count"`
	FailCount  int64     `json:"fail_count"`
	LastError  string    `json:"last_error,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"uptime_seconds": int64(s.Uptime().Seconds()),
	}

	if s.deps.Metrics != nil {
		snap := s.deps.Metrics.Metrics()
		commands := make([]commandMetrics, len(snap.Commands))
		for i, c := range snap.Commands {
			commands[i] = commandMetrics{
				Name:          c.Name,
				Count:         c.Count,
				Errors:        c.Errors,
				AvgDurationMS: float64(c.AvgDuration) / float64(time.Millisecond),
				MaxDurationMS: float64(c.MaxDuration) / float64(time.Millisecond),
			}
		}
		out["requests_total"] = snap.TotalRequests
		out["errors_total"] = snap.TotalErrors
		out["requests_active"] = snap.ActiveRequests
		out["commands"] = commands
	}

	if s.deps.Jobs != nil {
		infos := s.deps.Jobs.ListJobs()
		jobs := make([]jobMetrics, len(infos))
		for i, j := range infos {
			jobs[i] = jobMetrics{
				Name:      j.Name,
				Interval:  j.Interval.String(),
				NextRun:   j.NextRun,
				RunCount:  j.RunCount,
				FailCount: j.FailCount,
			}
			if res := j.LastResult; res != nil {
				jobs[i].LastRunAt = res.StartedAt
				jobs[i].LastStatus = "ok"
				if res.Error != nil {
					jobs[i].LastStatus = "failed"
					jobs[i].LastError = res.Error.Error()
				}
			}
		}
		out["jobs"] = jobs
	}

	writeJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type leaderboardEntry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Level    int    `json:"level"`
	TotalExp int64  `json:"total_exp"`
}

// handleGetLeaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Leaderboard == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Leaderboard is not configured")
		return
	}

	limit := getQueryParamInt(r, "limit", 0)
	if limit < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit cannot be negative")
		return
	}
	limit = min(limit, s.config.MaxLeaderboard)

	entries, err := s.deps.Leaderboard.Handle(r.Context(), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	out := make([]leaderboardEntry, len(entries))
	for i, e := range entries {
		out[i] = leaderboardEntry{Rank: e.Rank, UserID: e.UserID.String(), Level: e.Level, TotalExp: e.TotalExp}
	}
	writeJSON(w, http.StatusOK, out)
}

type userStat struct {
	UserID      string     `json:"user_id"`
	Level       int        `json:"level"`
	Exp         int64      `json:"exp"`
	Requirement int64      `json:"requirement"`
	Coins       int64      `json:"coins"`
	Messages    int64      `json:"messages"`
	Rank        int        `json:"rank"`
	Users       int        `json:"users"`
	DMOJ        string     `json:"dmoj_username,omitempty"`
	ExpBooster  *time.Time `json:"exp_booster_expiry,omitempty"`
	CoinBooster *time.Time `json:"coin_booster_expiry,omitempty"`
}

// handleGetUser handles GET /api/v1/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stat == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "User stats are not configured")
		return
	}
	id, ok := parseUserID(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "User ID must be a positive integer")
		return
	}

	res, err := s.deps.Stat.Handle(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	rec := res.Record
	out := userStat{
		UserID:      rec.ID.String(),
		Level:       rec.Level,
		Exp:         rec.Exp,
		Requirement: res.Requirement,
		Coins:       rec.Coins,
		Messages:    rec.MsgCount,
		Rank:        res.Rank,
		Users:       res.Users,
		ExpBooster:  rec.ExpBoosterExpiry,
		CoinBooster: rec.CoinBoosterExpiry,
	}
	if rec.DMOJUsername != nil {
		out.DMOJ = *rec.DMOJUsername
	}
	writeJSON(w, http.StatusOK, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleSync handles POST /api/v1/admin/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_implemented", "Sync is not configured")
		return
	}

	start := time.Now()
	if err := s.deps.Sync.Handle(r.Context()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced":      true,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// writeDomainError maps a domain error kind to a status code.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", messageOf(err, "User not found"))
	case shared.IsTimeout(err):
		writeJSONError(w, http.StatusServiceUnavailable, "busy", messageOf(err, "The bot is busy - please try again later"))
	default:
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
			"error", err.Error(),
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Something went wrong - see logs for details")
	}
}

func messageOf(err error, fallback string) string {
	if msg := shared.RejectionMessage(err); msg != "" {
		return msg
	}
	return fallback
}
