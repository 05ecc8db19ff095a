package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	container "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/example/bank-ledger/internal/locking"
)

// testClock is a settable clock shared by the engine and the validator under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestSQLite(t testing.TB) *SQLiteStore {
	t.Helper()

	dsn := fmt.Sprintf("file::memory:test%s?mode=memory&cache=shared&_txlock=immediate&_foreign_keys=1", uuid.NewString())
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	store := NewSQLiteStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupTestPostgres(ctx context.Context, t testing.TB) *PostgresStore {
	t.Helper()

	pg, err := container.Run(ctx,
		"postgres:16-alpine",
		container.WithDatabase("ledger"),
		container.WithUsername("ledger"),
		container.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			)))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres container: %v", err)
		}
	})

	url, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := OpenPostgres(ctx, url, WithLockTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// setupTestStore picks SQLite or Postgres from TEST_DB_DRIVER and applies the migrations.
func setupTestStore(t testing.TB) Store {
	t.Helper()
	ctx := context.Background()

	var store Store
	switch os.Getenv("TEST_DB_DRIVER") {
	case "postgres":
		store = setupTestPostgres(ctx, t)
	default:
		store = setupTestSQLite(t)
	}
	require.NoError(t, store.Migrate(ctx))
	return store
}

type fixture struct {
	ctx       context.Context
	store     Store
	clock     *testClock
	engine    *Engine
	validator *Validator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{ctx: context.Background(), store: setupTestStore(t), clock: newTestClock()}
	registry := locking.NewRegistry(locking.WithTimeout(5 * time.Second))
	base := []Option{
		WithLockRegistry(registry),
		WithClock(f.clock.Now),
		WithLogger(zaptest.NewLogger(t)),
		WithRetryPolicy(locking.Policy{MaxAttempts: 5, BaseDelay: 5 * time.Millisecond, Multiplier: 2}),
	}
	f.engine = NewEngine(f.store, append(base, opts...)...)
	f.validator = NewValidator(f.store, append(base, opts...)...)

	_, err := f.engine.SeedChartOfAccounts(f.ctx)
	require.NoError(t, err)
	return f
}

func (f *fixture) openAccount(t *testing.T, name string) *Account {
	t.Helper()
	a, err := f.engine.OpenAccount(f.ctx, OpenAccountRequest{AccountName: name})
	require.NoError(t, err)
	return a
}

func (f *fixture) deposit(t *testing.T, accountID, amount string) *JournalEntry {
	t.Helper()
	je, err := f.engine.Post(f.ctx, PostRequest{Type: OpDeposit, AccountID: accountID, Amount: dec(amount)})
	require.NoError(t, err)
	return je
}

func (f *fixture) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()
	a, err := f.store.GetAccount(f.ctx, accountID)
	require.NoError(t, err)
	return a.Balance
}

// setCachedBalance overwrites an account's cached balance behind the engine's back.
func (f *fixture) setCachedBalance(t *testing.T, accountID string, balance decimal.Decimal) {
	t.Helper()
	switch s := f.store.(type) {
	case *SQLiteStore:
		_, err := s.DB().ExecContext(f.ctx, `UPDATE accounts SET balance = ? WHERE id = ?`, balance, accountID)
		require.NoError(t, err)
	case *PostgresStore:
		_, err := s.Pool().Exec(f.ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, balance, accountID)
		require.NoError(t, err)
	default:
		t.Fatalf("unsupported store %T", f.store)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// requireDecimal compares decimals by value so 10 and 10.00 are equal.
func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
