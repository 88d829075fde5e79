package bars

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

// Postgres reads bars from per-timeframe tables named bars_<timeframe>, with
// columns (symbol, ts timestamptz, o, h, l, c, vol).
type Postgres struct {
	pool  *pgxpool.Pool
	limit int
}

func NewPostgres(ctx context.Context, url string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("bars postgres: parse url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, limit: DefaultLimit}, nil
}

// tableFor maps a timeframe to its table. The timeframe is validated first so
// it is safe to splice into SQL.
func tableFor(timeframe string) (string, error) {
	if _, err := ParseTimeframe(timeframe); err != nil {
		return "", err
	}
	return "bars_" + timeframe, nil
}

func (p *Postgres) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	table, err := tableFor(timeframe)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT t, o, h, l, c, v FROM (
			SELECT extract(epoch FROM ts)::bigint AS t, o, h, l, c, COALESCE(vol, 0)::float8 AS v
			FROM %s WHERE symbol = $1 ORDER BY ts DESC LIMIT $2
		) recent ORDER BY t ASC`, table)

	rows, err := p.pool.Query(ctx, q, symbol, p.limit)
	if err != nil {
		return nil, fmt.Errorf("bars postgres: query %s: %w", table, err)
	}
	defer rows.Close()

	var out []types.Bar
	for rows.Next() {
		var b types.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(symbol, timeframe)
	}
	return out, nil
}

func (p *Postgres) Close() { p.pool.Close() }
