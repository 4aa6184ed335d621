package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"manageros/internal/cron"
	"manageros/internal/jobs"
	"manageros/internal/telemetry"
)

type cronResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Summary   cron.Summary `json:"summary"`
	Timestamp string       `json:"timestamp"`
}

// handleCron runs the selected jobs for the selected organizations.
//
//	GET /api/cron?authorization=<secret>&job=<id>&org=<id>&verbose=true
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	code := s.cron(w, r)
	telemetry.CronRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (s *Server) cron(w http.ResponseWriter, r *http.Request) int {
	if code, msg := s.authorizeCron(r); code != http.StatusOK {
		writeError(w, code, msg)
		return code
	}

	q := r.URL.Query()
	verbose, _ := strconv.ParseBool(q.Get("verbose"))
	req := cron.Request{
		JobID:          q.Get("job"),
		OrganizationID: q.Get("org"),
		Verbose:        verbose,
	}

	summary, err := s.runner.Run(r.Context(), req)
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Job with ID '%s' not found", req.JobID))
		return http.StatusBadRequest
	}
	if err != nil {
		s.logger.Error("cron run failed", zap.String("job", req.JobID), zap.String("org", req.OrganizationID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}

	s.logger.Info("cron run finished",
		zap.String("job", req.JobID),
		zap.String("org", req.OrganizationID),
		zap.Int("total", summary.TotalJobs),
		zap.Int("failed", summary.FailedJobs),
		zap.Int("notifications", summary.TotalNotifications))

	writeJSON(w, http.StatusOK, cronResponse{
		Success:   true,
		Message:   fmt.Sprintf("Executed %d job runs: %d succeeded, %d failed", summary.TotalJobs, summary.SuccessfulJobs, summary.FailedJobs),
		Summary:   summary,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return http.StatusOK
}

// authorizeCron checks the shared secret. A server without a secret refuses
// every trigger.
func (s *Server) authorizeCron(r *http.Request) (int, string) {
	if s.cfg.CronSecret == "" {
		s.logger.Error("cron secret not configured")
		return http.StatusInternalServerError, "Cron secret not configured"
	}
	got := sha256.Sum256([]byte(r.URL.Query().Get("authorization")))
	want := sha256.Sum256([]byte(s.cfg.CronSecret))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return http.StatusUnauthorized, "Unauthorized"
	}
	return http.StatusOK, ""
}

// handleDeadLetters returns the worker DLQ contents.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if code, msg := s.authorizeCron(r); code != http.StatusOK {
		writeError(w, code, msg)
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusNotFound, "queue not configured")
		return
	}
	items, err := s.queue.DLQPeek(r.Context(), int64(queryLimit(r, 100, 1000)))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dlq")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
