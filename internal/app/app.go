// Package app is the composition root: it wires the HTTP server to the
// database manager and owns the startup and shutdown sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	httpadp "backend-skeleton/internal/adapter/http"
	"backend-skeleton/internal/adapter/middleware"
	"backend-skeleton/internal/config"
	"backend-skeleton/internal/infrastructure/cache"
)

// Database is the lifecycle the server drives. *db.Manager implements it.
type Database interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnectionActive() bool
	Ping(ctx context.Context) error
}

type App struct {
	cfg   *config.Config
	log   *zap.Logger
	db    Database
	redis *cache.Redis
	echo  *echo.Echo

	mu   sync.Mutex
	ln   net.Listener
	addr net.Addr
}

// New builds the echo server with middleware and health routes. redis may be
// nil when it is not configured.
func New(cfg *config.Config, log *zap.Logger, db Database, redis *cache.Redis) *App {
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.CORS(cfg.WhitelistOrigins),
	)

	h := httpadp.NewHandler(db, log)
	if redis != nil {
		h.WithRedis(redis)
	}
	h.Register(e, cfg.HealthPath)

	return &App{cfg: cfg, log: log, db: db, redis: redis, echo: e}
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler { return a.echo }

// Addr is the bound listener address, or nil while not listening.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *App) setAddr(addr net.Addr) {
	a.mu.Lock()
	a.addr = addr
	a.mu.Unlock()
}

// Run connects the database, starts listening and blocks until a signal
// arrives or ctx is done, then shuts down. Nothing is bound if the database
// connect fails. The returned error means the process should exit 1.
func (a *App) Run(ctx context.Context, signals <-chan os.Signal) error {
	if err := a.db.Connect(ctx); err != nil {
		a.log.Error("Failed to start the server", zap.Error(err))
		return fmt.Errorf("start: %w", err)
	}

	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.log.Error("Failed to start the server", zap.Error(err))
		if derr := a.db.Disconnect(); derr != nil {
			err = errors.Join(err, derr)
		}
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	a.echo.Listener = ln
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()
	a.setAddr(ln.Addr())
	a.log.Info("Server is running at: " + displayURL(ln.Addr()))

	go func() {
		// listener errors are reported but do not stop the process by themselves
		if err := a.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Server error", zap.Error(err))
		}
	}()

	select {
	case sig := <-signals:
		a.log.Info(fmt.Sprintf("Received %s, shutting down..", sig))
	case <-ctx.Done():
		a.log.Info("Context done, shutting down..", zap.Error(ctx.Err()))
	}
	return a.shutdown()
}

// shutdown stops accepting connections first and only then releases the
// database, so no request runs against a closed pool.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.echo.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	// Serve may not have picked the listener up yet.
	a.mu.Lock()
	if a.ln != nil {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.log.Warn("Error closing listener", zap.Error(err))
		}
		a.ln = nil
	}
	a.addr = nil
	a.mu.Unlock()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Error closing redis client", zap.Error(err))
		}
	}

	if err := a.db.Disconnect(); err != nil {
		a.log.Error("Error during server shutdown", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("Database disconnected")
	return nil
}

func displayURL(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return "http://localhost:" + strconv.Itoa(tcp.Port)
	}
	return "http://" + addr.String()
}
