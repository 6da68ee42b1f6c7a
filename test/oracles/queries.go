package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_event_per_signature",
			SQL:  `SELECT signature, COUNT(*) FROM events GROUP BY signature HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_one_ack_per_pair",
			SQL: `SELECT event_id, consumer, COUNT(*) FROM event_acks
                  GROUP BY event_id, consumer HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_attempts_positive",
			SQL:  `SELECT event_id, consumer, attempts FROM event_acks WHERE attempts < 1`,
		},
		{
			Name: "O4_status_enum",
			SQL:  `SELECT id, status FROM events WHERE status NOT IN ('RECEIVED','DELIVERED')`,
		},
		{
			Name: "O5_ack_status_consumed",
			SQL:  `SELECT event_id, consumer, status FROM event_acks WHERE status <> 'CONSUMED'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

// CheckAttempts compares stored attempts with the calls made. A call that
// failed on the client side may still have committed, so attempts must fall
// within [ok, ok+failed].
func CheckAttempts(ctx context.Context, pool *pgxpool.Pool, bounds map[[2]string][2]int) (string, error) {
	for pair, b := range bounds {
		var attempts int
		err := pool.QueryRow(ctx, `SELECT attempts FROM event_acks WHERE event_id = $1::uuid AND consumer = $2`, pair[0], pair[1]).Scan(&attempts)
		if err != nil {
			if b[0] == 0 {
				continue
			}
			return "", fmt.Errorf("attempts for %s/%s: %w", pair[0], pair[1], err)
		}
		if attempts < b[0] || attempts > b[0]+b[1] {
			return fmt.Sprintf("%s/%s attempts=%d ok=%d failed=%d", pair[0], pair[1], attempts, b[0], b[1]), nil
		}
	}
	return "", nil
}
