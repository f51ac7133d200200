package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"meteor/internal/game"
)

// Service is the postgres-backed persistence sink: finalized round snapshots
// and the append-only transaction audit log.
type Service interface {
	SaveRound(ctx context.Context, r game.RoundArchive) error
	RecordTransaction(ctx context.Context, tx game.Transaction) error
	RecentRounds(ctx context.Context, limit int) ([]game.RoundArchive, error)
	GetRound(ctx context.Context, roundID string) (game.RoundArchive, error)
	Health() map[string]string
	Close() error
}

type service struct {
	db *sql.DB
}

var (
	database = getEnv("METEOR_DB_DATABASE", "crashdb")
	password = getEnv("METEOR_DB_PASSWORD", "postgres")
	username = getEnv("METEOR_DB_USERNAME", "postgres")
	port     = getEnv("METEOR_DB_PORT", "5432")
	host     = getEnv("METEOR_DB_HOST", "localhost")
	schema   = getEnv("METEOR_DB_SCHEMA", "public")
)

func New() (Service, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		username, password, host, port, database, schema)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Println("[DB] Postgres connected")
	return &service{db: db}, nil
}

func (s *service) SaveRound(ctx context.Context, r game.RoundArchive) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (id, seed, seed_hash, crash_point, max_multiplier, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			seed = EXCLUDED.seed,
			crash_point = EXCLUDED.crash_point,
			max_multiplier = EXCLUDED.max_multiplier,
			ended_at = EXCLUDED.ended_at`,
		r.ID, r.Seed, r.SeedHash, r.CrashPoint, r.MaxMultiplier, r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("save round %s: %w", r.ID, err)
	}
	return nil
}

func (s *service) RecordTransaction(ctx context.Context, tx game.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (kind, player_id, round_id, usd_amount, crypto_amount, currency, price_at_time, resulting_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.Kind, tx.PlayerID, tx.RoundID, tx.USDAmount, tx.CryptoAmount, tx.Currency, tx.PriceAtTime, tx.ResultingBalance, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("record %s transaction for %s: %w", tx.Kind, tx.PlayerID, err)
	}
	return nil
}

func (s *service) RecentRounds(ctx context.Context, limit int) ([]game.RoundArchive, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seed, seed_hash, crash_point, max_multiplier, started_at, ended_at
		FROM rounds ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent rounds: %w", err)
	}
	defer rows.Close()

	var rounds []game.RoundArchive
	for rows.Next() {
		var r game.RoundArchive
		if err := rows.Scan(&r.ID, &r.Seed, &r.SeedHash, &r.CrashPoint, &r.MaxMultiplier, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func (s *service) GetRound(ctx context.Context, roundID string) (game.RoundArchive, error) {
	var r game.RoundArchive
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seed, seed_hash, crash_point, max_multiplier, started_at, ended_at
		FROM rounds WHERE id = $1`, roundID).
		Scan(&r.ID, &r.Seed, &r.SeedHash, &r.CrashPoint, &r.MaxMultiplier, &r.StartedAt, &r.EndedAt)
	if err != nil {
		return game.RoundArchive{}, fmt.Errorf("get round %s: %w", roundID, err)
	}
	return r, nil
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)

	return stats
}

func (s *service) Close() error {
	log.Println("[DB] Disconnecting from Postgres")
	return s.db.Close()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
