package bars

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dgnsrekt/tv_sandbox/internal/types"
)

const Schema = `
CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT    NOT NULL,
	timeframe TEXT    NOT NULL,
	t         INTEGER NOT NULL,
	o         REAL    NOT NULL,
	h         REAL    NOT NULL,
	l         REAL    NOT NULL,
	c         REAL    NOT NULL,
	v         REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timeframe, t)
);
`

// Series summarizes one stored symbol/timeframe pair.
type Series struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Count     int    `json:"count"`
	First     int64  `json:"first"`
	Last      int64  `json:"last"`
}

// SQLiteStore keeps imported bars in a local sqlite file.
type SQLiteStore struct {
	db    *sql.DB
	limit int
}

func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bars sqlite: schema: %w", err)
	}
	return &SQLiteStore{db: db, limit: DefaultLimit}, nil
}

// PutBars upserts bars for a series and returns how many were written.
func (s *SQLiteStore) PutBars(ctx context.Context, symbol, timeframe string, bars []types.Bar) (int, error) {
	if _, err := ParseTimeframe(timeframe); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, timeframe, t, o, h, l, c, v)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, t) DO UPDATE SET
			o = excluded.o, h = excluded.h, l = excluded.l, c = excluded.c, v = excluded.v`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return 0, fmt.Errorf("bars sqlite: insert %s %s t=%d: %w", symbol, timeframe, b.Time, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(bars), nil
}

// GetBars returns the latest bars of a series, oldest first.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol, timeframe string) ([]types.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t, o, h, l, c, v FROM (
			SELECT t, o, h, l, c, v FROM bars
			WHERE symbol = ? AND timeframe = ?
			ORDER BY t DESC LIMIT ?
		) ORDER BY t ASC`, symbol, timeframe, s.limit)
	if err != nil {
		return nil, err
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

// Series lists every stored symbol/timeframe pair.
func (s *SQLiteStore) Series(ctx context.Context) ([]Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, COUNT(*), MIN(t), MAX(t)
		FROM bars GROUP BY symbol, timeframe ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Series
	for rows.Next() {
		var se Series
		if err := rows.Scan(&se.Symbol, &se.Timeframe, &se.Count, &se.First, &se.Last); err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// DeleteSeries removes a series and reports how many bars were deleted.
func (s *SQLiteStore) DeleteSeries(ctx context.Context, symbol, timeframe string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE symbol = ? AND timeframe = ?`, symbol, timeframe)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
