// README: Postgres test helpers; skip unless SHARETAXI_TEST_DSN is set.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"sharetaxi/internal/infra"
)

const dsnEnv = "SHARETAXI_TEST_DSN"

// NewPool opens a pool against SHARETAXI_TEST_DSN, applies all migrations and
// truncates the given tables. The pool is closed when the test finishes.
func NewPool(t *testing.T, truncate ...string) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skip(dsnEnv + " not set; skipping database test")
	}

	ctx := context.Background()
	pool, err := infra.NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("testutil.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := infra.Migrate(ctx, pool); err != nil {
		t.Fatalf("testutil.NewPool: migrate: %v", err)
	}
	if len(truncate) > 0 {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(truncate, ", ")+" CASCADE"); err != nil {
			t.Fatalf("testutil.NewPool: truncate: %v", err)
		}
	}
	return pool
}
