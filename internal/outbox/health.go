package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EnginePinger is the slice of the search engine the health check needs.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Healthy           bool
	LastEventTime     time.Time
	EventsProcessed   uint64
	DatabaseConnected bool
	SearchConnected   bool
	SupervisorActive  bool
	Errors            []string
}

// HealthChecker reports the liveness of the synchronization pipeline.
type HealthChecker struct {
	supervisor *Supervisor
	db         *sql.DB
	engine     EnginePinger
}

func NewHealthChecker(supervisor *Supervisor, db *sql.DB, engine EnginePinger) *HealthChecker {
	return &HealthChecker{
		supervisor: supervisor,
		db:         db,
		engine:     engine,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	processed, lastTime := h.supervisor.Stats()
	status.EventsProcessed = processed
	status.LastEventTime = lastTime

	if err := h.db.PingContext(ctx); err != nil {
		status.DatabaseConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.engine != nil {
		if err := h.engine.Ping(ctx); err != nil {
			status.SearchConnected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("search engine ping failed: %v", err))
		} else {
			status.SearchConnected = true
		}
	}

	status.SupervisorActive = h.supervisor.Running()
	if !status.SupervisorActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "stream supervisor not active")
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	response := map[string]interface{}{
		"healthy":            status.Healthy,
		"events_processed":   status.EventsProcessed,
		"last_event_time":    status.LastEventTime,
		"database_connected": status.DatabaseConnected,
		"search_connected":   status.SearchConnected,
		"supervisor_active":  status.SupervisorActive,
		"errors":             status.Errors,
	}

	w.Header().Set("Content-Type", "application/json")

	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
