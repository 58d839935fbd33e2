package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	CodeOK    = "OK"
	CodeError = "Error"

	MsgDBConnected    = "Database is connected"
	MsgDBNotConnected = "Database not connected"
	MsgDisconnected   = "disconnected"

	MsgRedisConnected     = "Redis is connected"
	MsgRedisNotConfigured = "Redis not configured"

	// ISO-8601 with millisecond precision, always rendered in UTC ("Z").
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Database is what the health check needs from the connection manager.
type Database interface {
	IsConnectionActive() bool
	Ping(ctx context.Context) error
}

// Pinger is an optional dependency probed by its own health route.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResult is the body of every health response.
type HealthResult struct {
	Code      string `json:"code"`
	Server    string `json:"server"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Handler struct {
	db    Database
	redis Pinger
	log   *zap.Logger
	now   func() time.Time
}

func NewHandler(db Database, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, log: log, now: time.Now}
}

// WithRedis enables the Redis probe. Pass nothing when Redis is not configured.
func (h *Handler) WithRedis(p Pinger) *Handler {
	h.redis = p
	return h
}

func (h *Handler) result(code, msg string) HealthResult {
	return HealthResult{
		Code:      code,
		Server:    "up",
		Message:   msg,
		Timestamp: h.now().UTC().Format(timestampLayout),
	}
}

// Health reports process and database liveness. A manager that never
// connected is answered without touching the database.
func (h *Handler) Health(c echo.Context) error {
	if !h.db.IsConnectionActive() {
		h.log.Warn("Health check failed: database not connected at startup")
		return c.JSON(http.StatusServiceUnavailable, h.result(CodeError, MsgDBNotConnected))
	}

	if err := h.db.Ping(c.Request().Context()); err != nil {
		h.log.Error("Health check failed: database unreachable", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, h.result(CodeError, MsgDisconnected))
	}
	return c.JSON(http.StatusOK, h.result(CodeOK, MsgDBConnected))
}

// RedisHealth reports the optional Redis dependency in the same shape.
func (h *Handler) RedisHealth(c echo.Context) error {
	if h.redis == nil {
		return c.JSON(http.StatusServiceUnavailable, h.result(CodeError, MsgRedisNotConfigured))
	}
	if err := h.redis.Ping(c.Request().Context()); err != nil {
		h.log.Error("Health check failed: redis unreachable", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, h.result(CodeError, MsgDisconnected))
	}
	return c.JSON(http.StatusOK, h.result(CodeOK, MsgRedisConnected))
}

// Register mounts the health routes under path (e.g. /health).
func (h *Handler) Register(e *echo.Echo, path string) {
	e.GET(path, h.Health)
	e.GET(path+"/redis", h.RedisHealth)
}
