// Package telemetry carries observational outputs of a drive: the live status endpoint and
// the background writer that persists decisions. Neither is on the control path.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Status is the latest view of a running session.
type Status struct {
	SessionID     string    `json:"session_id"`
	Mode          string    `json:"mode"`
	Operator      string    `json:"operator"`
	Frame         int       `json:"frame"`
	State         string    `json:"state"`
	Direction     int       `json:"direction"`
	Speed         int       `json:"speed"`
	Depth         int       `json:"depth"`
	StopReason    string    `json:"stop_reason"`
	Bail          bool      `json:"bail"`
	Stalled       bool      `json:"stalled"`
	Bails         int       `json:"bails"`
	CommandErrors int       `json:"command_errors"`
	Dropped       int64     `json:"dropped_records"`
	FPS           float64   `json:"fps"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Monitor guards the Status shared between the control loop and HTTP handlers.
type Monitor struct {
	mu     sync.RWMutex
	status Status
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Update mutates the status under the lock.
func (m *Monitor) Update(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.status.UpdatedAt = time.Now()
	m.mu.Unlock()
}

// Snapshot returns a copy of the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// StatusHandler serves the live status API.
type StatusHandler struct {
	monitor *Monitor
	logger  logrus.FieldLogger
	started time.Time
}

func NewStatusHandler(monitor *Monitor, logger logrus.FieldLogger) *StatusHandler {
	return &StatusHandler{monitor: monitor, logger: logger, started: time.Now()}
}

// RegisterRoutes registers the API routes.
func (h *StatusHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/health", h.CheckHealth)
	}
}

// GetStatus returns the latest snapshot.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Snapshot())
}

// CheckHealth reports 503 once the session stalled.
func (h *StatusHandler) CheckHealth(c *gin.Context) {
	st := h.monitor.Snapshot()
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"frame":  st.Frame,
	}
	if st.Stalled {
		body["status"] = "stalled"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// NewRouter builds the gin engine for the status API.
func NewRouter(monitor *Monitor, logger logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	NewStatusHandler(monitor, logger).RegisterRoutes(router)
	return router
}

// Serve runs the status API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, monitor *Monitor, logger logrus.FieldLogger) {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{Addr: addr, Handler: NewRouter(monitor, logger)}

	go func() {
		logger.Infof("status API listening on http://%s/api/v1/status", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("status API stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
