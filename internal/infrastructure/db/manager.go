package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	livenessQuery = "SELECT 1"
)

var ErrNotConnected = errors.New("database not connected")

// Manager owns the process database client and tracks whether the last
// connect attempt succeeded. Connect and Disconnect are serialized; the
// connection flag and client handle can be read concurrently.
type Manager struct {
	dial       gorm.Dialector
	log        *zap.Logger
	gormLog    gormlogger.Interface
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	db         atomic.Pointer[gorm.DB]
	connected  atomic.Bool
	retryCount atomic.Int32
}

type Option func(*Manager)

// WithMaxRetries sets how many times a failed connect is retried.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithRetryDelay sets the fixed wait between connect attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

// WithGormLogger replaces the ORM logger (gorm's default writes to stdout).
func WithGormLogger(l gormlogger.Interface) Option {
	return func(m *Manager) { m.gormLog = l }
}

func NewManager(dial gorm.Dialector, log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		dial:       dial,
		log:        log,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var (
	sharedOnce sync.Once
	shared     *Manager
)

// Shared returns the process-wide Manager, creating it on the first call.
// Later calls ignore their arguments and return the same instance.
func Shared(dial gorm.Dialector, log *zap.Logger, opts ...Option) *Manager {
	sharedOnce.Do(func() { shared = NewManager(dial, log, opts...) })
	return shared
}

// Connect opens and pings the database, retrying up to maxRetries times with
// a fixed delay. The last error is returned once retries are exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retryCount.Store(0)
	for {
		err := m.attempt(ctx)
		if err == nil {
			m.connected.Store(true)
			m.retryCount.Store(0)
			m.log.Info("Database connected successfully", zap.String("driver", m.dial.Name()))
			return nil
		}

		m.connected.Store(false)
		n := int(m.retryCount.Load())
		m.log.Error("Database connection failed",
			zap.Error(err),
			zap.Int("retryCount", n),
			zap.Int("maxRetries", m.maxRetries),
		)
		if n >= m.maxRetries {
			return fmt.Errorf("connect database after %d retries: %w", n, err)
		}

		n = int(m.retryCount.Add(1))
		m.log.Info(fmt.Sprintf("Retrying database connection... (%d/%d)", n, m.maxRetries))
		if err := m.sleep(ctx, m.retryDelay); err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
	}
}

func (m *Manager) attempt(ctx context.Context) error {
	db := m.db.Load()
	if db == nil {
		var err error
		if db, err = Open(m.dial, m.gormConfig()); err != nil {
			return err
		}
		m.db.Store(db)
	}
	return Ping(ctx, db)
}

func (m *Manager) gormConfig() *gorm.Config {
	cfg := &gorm.Config{}
	if m.gormLog != nil {
		cfg.Logger = m.gormLog
	}
	return cfg
}

// Disconnect closes the connection pool. On failure the manager keeps its
// state and the error is returned.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := m.db.Load()
	if db == nil {
		m.connected.Store(false)
		m.log.Info("Database disconnected successfully")
		return nil
	}
	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.Close()
	}
	if err != nil {
		m.log.Error("Error disconnecting from database", zap.Error(err))
		return fmt.Errorf("disconnect database: %w", err)
	}
	m.db.Store(nil)
	m.connected.Store(false)
	m.log.Info("Database disconnected successfully")
	return nil
}

// IsConnectionActive reports the outcome of the last Connect/Disconnect.
// It does not touch the network.
func (m *Manager) IsConnectionActive() bool { return m.connected.Load() }

// Ping runs the liveness query.
func (m *Manager) Ping(ctx context.Context) error {
	db := m.db.Load()
	if db == nil {
		return ErrNotConnected
	}
	return db.WithContext(ctx).Exec(livenessQuery).Error
}

// RetryCount is the number of retries used by the current or last Connect.
func (m *Manager) RetryCount() int { return int(m.retryCount.Load()) }

// DB returns the gorm client, or nil before the first successful open.
func (m *Manager) DB() *gorm.DB { return m.db.Load() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
