package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
)

// newMockManager builds a Manager over a sqlmock connection through the
// mysql dialector, recording the retry delays instead of sleeping.
func newMockManager(t *testing.T, opts ...Option) (*Manager, sqlmock.Sqlmock, *[]time.Duration) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	dial := mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true, // don't query @@version
	})

	m := NewManager(dial, zap.NewNop(), opts...)
	var delays []time.Duration
	m.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return m, mock, &delays
}

func TestManager_Connect_Success(t *testing.T) {
	m, mock, delays := newMockManager(t)
	mock.ExpectPing()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !m.IsConnectionActive() {
		t.Fatal("expected connection to be active")
	}
	if m.RetryCount() != 0 {
		t.Fatalf("RetryCount = %d, want 0", m.RetryCount())
	}
	if len(*delays) != 0 {
		t.Fatalf("unexpected retry delays: %v", *delays)
	}
	if m.DB() == nil {
		t.Fatal("DB() is nil after connect")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_Connect_RetriesThreeTimesThenFails(t *testing.T) {
	m, mock, delays := newMockManager(t, WithRetryDelay(1500*time.Millisecond))
	pingErr := errors.New("connection refused")
	for i := 0; i < 4; i++ { // first attempt + 3 retries
		mock.ExpectPing().WillReturnError(pingErr)
	}

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, pingErr) {
		t.Fatalf("error %v does not wrap the ping failure", err)
	}
	if m.IsConnectionActive() {
		t.Fatal("connection must not be active after exhausted retries")
	}
	if m.RetryCount() != DefaultMaxRetries {
		t.Fatalf("RetryCount = %d, want %d", m.RetryCount(), DefaultMaxRetries)
	}
	if len(*delays) != 3 {
		t.Fatalf("got %d delays, want 3", len(*delays))
	}
	for i, d := range *delays {
		if d != 1500*time.Millisecond {
			t.Fatalf("delay[%d] = %v, want fixed 1.5s", i, d)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_Connect_RecoversAndResetsRetryCount(t *testing.T) {
	m, mock, delays := newMockManager(t)
	mock.ExpectPing().WillReturnError(errors.New("not ready"))
	mock.ExpectPing().WillReturnError(errors.New("not ready"))
	mock.ExpectPing()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if len(*delays) != 2 {
		t.Fatalf("got %d delays, want 2", len(*delays))
	}
	if m.RetryCount() != 0 {
		t.Fatalf("RetryCount = %d, want 0 after success", m.RetryCount())
	}
	if !m.IsConnectionActive() {
		t.Fatal("expected connection to be active")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_Connect_AfterExhaustionGetsFreshBudget(t *testing.T) {
	m, mock, _ := newMockManager(t, WithMaxRetries(1))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	mock.ExpectPing().WillReturnError(errors.New("down"))
	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected first Connect to fail")
	}
	if m.RetryCount() != 1 {
		t.Fatalf("RetryCount = %d, want 1", m.RetryCount())
	}

	mock.ExpectPing().WillReturnError(errors.New("still down"))
	mock.ExpectPing()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	if m.RetryCount() != 0 || !m.IsConnectionActive() {
		t.Fatalf("retry=%d active=%v, want 0/true", m.RetryCount(), m.IsConnectionActive())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_Connect_LogsEachFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()
	core, logs := observer.New(zapcore.InfoLevel)

	m := NewManager(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), zap.New(core),
		WithMaxRetries(2), WithRetryDelay(0))
	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(errors.New("down"))
	}
	_ = m.Connect(context.Background())

	failures := logs.FilterMessage("Database connection failed").AllUntimed()
	if len(failures) != 3 {
		t.Fatalf("got %d failure logs, want 3", len(failures))
	}
	last := failures[2].ContextMap()
	if last["retryCount"] != int64(2) || last["maxRetries"] != int64(2) {
		t.Fatalf("last failure fields = %v", last)
	}
	if n := logs.FilterMessage("Retrying database connection... (2/2)").Len(); n != 1 {
		t.Fatalf("retry progress log count = %d, want 1", n)
	}
}

func TestManager_Connect_StopsOnContextCancel(t *testing.T) {
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()

	m := NewManager(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), nil,
		WithRetryDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.Connect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if m.IsConnectionActive() {
		t.Fatal("connection must not be active")
	}
}

func TestManager_Ping(t *testing.T) {
	m, mock, _ := newMockManager(t)
	mock.ExpectPing()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}

	queryErr := errors.New("server has gone away")
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1")).WillReturnError(queryErr)
	if err := m.Ping(context.Background()); !errors.Is(err, queryErr) {
		t.Fatalf("Ping error = %v, want %v", err, queryErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_PingBeforeConnect(t *testing.T) {
	m, _, _ := newMockManager(t)
	if err := m.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Ping error = %v, want ErrNotConnected", err)
	}
}

func TestManager_Disconnect(t *testing.T) {
	m, mock, _ := newMockManager(t)
	mock.ExpectPing()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	mock.ExpectClose()
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if m.IsConnectionActive() {
		t.Fatal("connection still active after Disconnect")
	}
	if m.DB() != nil {
		t.Fatal("DB() should be nil after Disconnect")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestManager_DisconnectFailurePropagates(t *testing.T) {
	m, mock, _ := newMockManager(t)
	mock.ExpectPing()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	closeErr := errors.New("close failed")
	mock.ExpectClose().WillReturnError(closeErr)
	err := m.Disconnect()
	if !errors.Is(err, closeErr) {
		t.Fatalf("Disconnect error = %v, want %v", err, closeErr)
	}
	if !m.IsConnectionActive() {
		t.Fatal("failed disconnect must keep the connected flag")
	}
}

func TestManager_DisconnectWithoutConnect(t *testing.T) {
	m, _, _ := newMockManager(t)
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if m.IsConnectionActive() {
		t.Fatal("connection must not be active")
	}
}

func TestManager_SQLiteRoundTrip(t *testing.T) {
	m := NewManager(sqlite.Open(":memory:"), zap.NewNop())
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if m.IsConnectionActive() {
		t.Fatal("connection still active after Disconnect")
	}
}

func TestShared_ReturnsSameInstance(t *testing.T) {
	a := Shared(sqlite.Open(":memory:"), zap.NewNop())
	b := Shared(sqlite.Open("file:other.db"), nil)
	if a == nil || a != b {
		t.Fatalf("Shared returned different instances: %p vs %p", a, b)
	}
}

func TestSleepCtx(t *testing.T) {
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepCtx error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepCtx error = %v, want context.Canceled", err)
	}
}
