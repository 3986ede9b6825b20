package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"road-state-gateway/internal/config"
	"road-state-gateway/internal/data"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_agent_data (
	id         SERIAL PRIMARY KEY,
	road_state VARCHAR(16) NOT NULL,
	user_id    BIGINT NOT NULL,
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	z          DOUBLE PRECISION NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS processed_agent_data_user_id_idx ON processed_agent_data (user_id);
`

const columns = `id, road_state, user_id, x, y, z, latitude, longitude, timestamp`

const (
	insertSQL = `INSERT INTO processed_agent_data (road_state, user_id, x, y, z, latitude, longitude, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING ` + columns
	selectSQL = `SELECT ` + columns + ` FROM processed_agent_data WHERE id = $1`
	listSQL   = `SELECT ` + columns + ` FROM processed_agent_data ORDER BY id`
	updateSQL = `UPDATE processed_agent_data
		SET road_state = $1, user_id = $2, x = $3, y = $4, z = $5, latitude = $6, longitude = $7, timestamp = $8
		WHERE id = $9 RETURNING ` + columns
	deleteSQL = `DELETE FROM processed_agent_data WHERE id = $1 RETURNING ` + columns
)

// PostgresStore persists records in the processed_agent_data table. Every
// call checks a connection out of the pool for the length of one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// NewPostgresStore connects to PostgreSQL, retrying with exponential backoff
// until cfg.ConnectTimeout elapses.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, log logrus.FieldLogger) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(ctx, cfg.DSN(), cfg.MaxConns, cfg.ConnectTimeout, log)
}

func NewPostgresStoreFromDSN(ctx context.Context, dsn string, maxConns int32, connectTimeout time.Duration, log logrus.FieldLogger) (*PostgresStore, error) {
	log = log.WithField("component", "postgres_store")

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storageErr("connect", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectTimeout
	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("database not reachable yet")
	})
	if err != nil {
		pool.Close()
		return nil, storageErr("connect", err)
	}

	log.WithField("host", poolCfg.ConnConfig.Host).Info("connected to database")
	return &PostgresStore{pool: pool, log: log}, nil
}

// EnsureSchema creates the records table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return storageErr("ensure schema", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (data.ProcessedRecord, error) {
	var (
		rec   data.ProcessedRecord
		state string
	)
	err := row.Scan(&rec.ID, &state, &rec.UserID, &rec.X, &rec.Y, &rec.Z, &rec.Latitude, &rec.Longitude, &rec.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return data.ProcessedRecord{}, ErrNotFound
	}
	if err != nil {
		return data.ProcessedRecord{}, err
	}
	rec.RoadState = data.RoadState(state)
	rec.Timestamp = rec.Timestamp.UTC()
	return rec, nil
}

func fieldArgs(f data.RecordFields) []any {
	return []any{string(f.RoadState), f.UserID, f.X, f.Y, f.Z, f.Latitude, f.Longitude, f.Timestamp.UTC()}
}

func (s *PostgresStore) Insert(ctx context.Context, f data.RecordFields) (data.ProcessedRecord, error) {
	var rec data.ProcessedRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, insertSQL, fieldArgs(f)...))
		return err
	})
	return rec, storageErr("insert", err)
}

func (s *PostgresStore) InsertBatch(ctx context.Context, fs []data.RecordFields) ([]data.ProcessedRecord, error) {
	out := make([]data.ProcessedRecord, 0, len(fs))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, f := range fs {
			rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, fieldArgs(f)...))
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("insert batch", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (data.ProcessedRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectSQL, id))
	return rec, storageErr("get", err)
}

func (s *PostgresStore) List(ctx context.Context) ([]data.ProcessedRecord, error) {
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	out := []data.ProcessedRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storageErr("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id int64, f data.RecordFields) (data.ProcessedRecord, error) {
	var rec data.ProcessedRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, updateSQL, append(fieldArgs(f), id)...))
		return err
	})
	return rec, storageErr("update", err)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) (data.ProcessedRecord, error) {
	var rec data.ProcessedRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, deleteSQL, id))
		return err
	})
	return rec, storageErr("delete", err)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.pool.Ping(ctx))
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
