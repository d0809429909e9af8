package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresReplayStore implements payment.ReplayStore on a shared Postgres
// database. INSERT ... ON CONFLICT DO NOTHING gives the atomic
// insert-if-absent; expired rows are swept by a background janitor.
//
// Required schema:
//
//	CREATE TABLE IF NOT EXISTS consumed_nonces (
//	    payer       TEXT        NOT NULL,
//	    nonce       TEXT        NOT NULL,
//	    expires_at  TIMESTAMPTZ NOT NULL,
//	    consumed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (payer, nonce)
//	);
//	CREATE INDEX IF NOT EXISTS consumed_nonces_expiry ON consumed_nonces (expires_at);
type PostgresReplayStore struct {
	pool *pgxpool.Pool
	done chan struct{}
}

// NewPostgresReplayStore connects to Postgres, verifies reachability, and
// starts the expiry janitor.
func NewPostgresReplayStore(ctx context.Context, connString string) (*PostgresReplayStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresReplayStore{pool: pool, done: make(chan struct{})}
	go s.janitor()

	log.Info().Msg("postgres replay store connected")
	return s, nil
}

func (s *PostgresReplayStore) Consume(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO consumed_nonces (payer, nonce, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (payer, nonce) DO NOTHING`,
		payer, nonce, ttl,
	)
	if err != nil {
		return false, fmt.Errorf("inserting nonce: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Conflict. A row past its expiry no longer blocks; take it over.
	tag, err = s.pool.Exec(ctx, `
		UPDATE consumed_nonces
		SET expires_at = now() + $3, consumed_at = now()
		WHERE payer = $1 AND nonce = $2 AND expires_at < now()`,
		payer, nonce, ttl,
	)
	if err != nil {
		return false, fmt.Errorf("refreshing expired nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresReplayStore) Release(ctx context.Context, payer, nonce string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM consumed_nonces WHERE payer = $1 AND nonce = $2`,
		payer, nonce,
	)
	if err != nil {
		return fmt.Errorf("deleting nonce: %w", err)
	}
	return nil
}

// Healthy reports whether the database responds to a ping.
func (s *PostgresReplayStore) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

func (s *PostgresReplayStore) Close() error {
	close(s.done)
	s.pool.Close()
	return nil
}

func (s *PostgresReplayStore) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			tag, err := s.pool.Exec(ctx, `DELETE FROM consumed_nonces WHERE expires_at < now()`)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("nonce sweep failed")
				continue
			}
			if n := tag.RowsAffected(); n > 0 {
				log.Debug().Int64("rows", n).Msg("swept expired nonces")
			}
		case <-s.done:
			return
		}
	}
}
