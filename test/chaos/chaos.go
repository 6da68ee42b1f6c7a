// Package chaos injects connection failures into the bridge's database while
// the stress actors run.
package chaos

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"corebridge/test/actors"
)

const (
	tick = 2 * time.Second
	// one tick in killOdds terminates a backend
	killOdds = 5
)

const terminateOne = `
SELECT pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = current_database()
  AND pid <> pg_backend_pid()
  AND state <> 'idle'
ORDER BY random()
LIMIT 1`

// DropConnections now and then terminates a busy backend so that event saves
// and ack upserts fail mid-statement. It returns how many kills it issued.
func DropConnections(ctx context.Context, dice *actors.Dice, pool *pgxpool.Pool, stop <-chan struct{}) int {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	kills := 0
	for {
		select {
		case <-ctx.Done():
			return kills
		case <-stop:
			return kills
		case <-ticker.C:
			if dice.Intn(killOdds) != 0 {
				continue
			}
			if _, err := pool.Exec(ctx, terminateOne); err == nil {
				kills++
			}
		}
	}
}
