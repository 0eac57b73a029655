package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nestedsync/nestedsync/internal/api/middleware"
	"github.com/nestedsync/nestedsync/internal/nestedset"
)

const healthCheckTimeout = 2 * time.Second

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status       string `json:"status"`
		ServiceName  string `json:"serviceName"`
		Version      string `json:"version"`
		Uptime       string `json:"uptime,omitempty"`
		Destinations int    `json:"destinations"`
	}

	// DestinationSummary describes one configured destination for GET /api/v1/destinations.
	DestinationSummary struct {
		Name      string `json:"name"`
		Table     string `json:"table"`     //nolint: tagliatelle
		LogTable  string `json:"log_table"` //nolint: tagliatelle
	}

	// OffsetResponse is the response body for GET /api/v1/destinations/{name}/offset.
	OffsetResponse struct {
		Destination string `json:"destination"`
		Offset      int64  `json:"offset"`
	}

	// SyncResponse mirrors nestedset.Report for the manual-trigger endpoint.
	SyncResponse struct {
		Destination    string `json:"destination"`
		Synced         bool   `json:"synced"`
		Reason         string `json:"reason,omitempty"`
		PreviousOffset int64  `json:"previous_offset"` //nolint: tagliatelle
		NewOffset      int64  `json:"new_offset"`       //nolint: tagliatelle
		Inserted       int    `json:"inserted"`
		Updated        int    `json:"updated"`
		Deleted        int    `json:"deleted"`
	}
)

// setupRoutes registers every HTTP route exposed by the admin server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/destinations", s.handleListDestinations)
	mux.HandleFunc("GET /api/v1/destinations/{name}/offset", s.handleDestinationOffset)
	mux.HandleFunc("POST /api/v1/destinations/{name}/sync", s.handleDestinationSync)

	mux.HandleFunc("/", s.handleNotFound)
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to readiness probes, checking the API key store's
// backing storage when one is configured.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.apiKeyStore == nil { // pragma: allowlist secret
		s.writePlainText(w, r, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.apiKeyStore.HealthCheck(ctx); err != nil {
		s.logger.Error("storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		s.writePlainText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writePlainText(w, r, http.StatusOK, "ready")
}

// handleHealth returns detailed health status including the size of the
// configured destination fleet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	health := HealthStatus{
		Status:       "healthy",
		ServiceName:  "nestedsync",
		Version:      "v1.0.0",
		Uptime:       uptime,
		Destinations: s.fleet.Len(),
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("failed to encode health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleListDestinations lists every destination in the configured fleet.
func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	destinations := s.fleet.All()

	summaries := make([]DestinationSummary, 0, len(destinations))
	for _, d := range destinations {
		summaries = append(summaries, DestinationSummary{
			Name:     d.Name,
			Table:    d.Table.Name,
			LogTable: d.Log.Name,
		})
	}

	s.writeJSON(w, r, http.StatusOK, summaries)
}

// handleDestinationOffset reports the durable log offset for one destination.
func (s *Server) handleDestinationOffset(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))

	dest, ok := s.fleet.Get(name)
	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("unknown destination: "+name))

		return
	}

	if s.storage == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("database connection not configured"))

		return
	}

	offset, err := nestedset.ReadOffset(r.Context(), s.storage, dest)
	if err != nil {
		s.logger.Error("failed to read destination offset",
			slog.String("destination", name),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to read destination offset"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, OffsetResponse{Destination: name, Offset: offset})
}

// handleDestinationSync triggers an out-of-band synchronize cycle for one
// destination, outside its normal ticker schedule.
func (s *Server) handleDestinationSync(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))

	dest, ok := s.fleet.Get(name)
	if !ok {
		WriteErrorResponse(w, r, s.logger, NotFound("unknown destination: "+name))

		return
	}

	if s.synchronizer == nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("synchronizer not configured"))

		return
	}

	report, err := s.synchronizer.Synchronize(r.Context(), dest)
	if err != nil {
		s.logger.Error("manual synchronize cycle failed",
			slog.String("destination", name),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("synchronize cycle failed: "+err.Error()))

		return
	}

	s.writeJSON(w, r, http.StatusOK, SyncResponse{
		Destination:    report.Destination,
		Synced:         report.Synced,
		Reason:         report.Reason,
		PreviousOffset: report.PreviousOffset,
		NewOffset:      report.NewOffset,
		Inserted:       report.Inserted,
		Updated:        report.Updated,
		Deleted:        report.Deleted,
	})
}

// handleNotFound returns an RFC 7807 compliant 404 for unknown routes.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("the requested resource was not found"))
}

func (s *Server) writePlainText(w http.ResponseWriter, r *http.Request, status int, body string) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	correlationID := middleware.GetCorrelationID(r.Context())

	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to encode response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}
