package game

import (
	"context"
	"time"
)

// Broadcaster fans round and player events out to subscribers. Sends are
// fire-and-forget; a slow subscriber never blocks the engine.
type Broadcaster interface {
	Broadcast(message interface{})
}

// Transaction is one audit-log entry. Kinds: "bet", "cashout", "loss".
type Transaction struct {
	Kind             string    `json:"kind"`
	PlayerID         string    `json:"player_id"`
	RoundID          string    `json:"round_id"`
	USDAmount        float64   `json:"usd_amount"`
	CryptoAmount     float64   `json:"crypto_amount"`
	Currency         string    `json:"currency"`
	PriceAtTime      float64   `json:"price_at_time"`
	ResultingBalance float64   `json:"resulting_balance"`
	CreatedAt        time.Time `json:"created_at"`
}

// RoundArchive is the finalized form of a round written to persistence after
// the crash, seed included.
type RoundArchive struct {
	ID            string    `json:"round_id"`
	Seed          string    `json:"seed"`
	SeedHash      string    `json:"seed_hash"`
	CrashPoint    float64   `json:"crash_point"`
	MaxMultiplier float64   `json:"max_multiplier"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Sink receives round snapshots and transaction records. Writes are
// best-effort relative to the in-memory round; the engine counts failures but
// never blocks gameplay on them.
type Sink interface {
	SaveRound(ctx context.Context, r RoundArchive) error
	RecordTransaction(ctx context.Context, tx Transaction) error
}

// CashoutResult is returned from a successful cashout.
type CashoutResult struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
	USDPayout  float64 `json:"usd_payout"`
	Balance    float64 `json:"balance"`
}

// Websocket event payloads.

type RoundCreatedEvent struct {
	Type            string `json:"type"`
	RoundID         string `json:"round_id"`
	SeedHash        string `json:"seed_hash"`
	BettingWindowMs int64  `json:"betting_window_ms"`
}

type RoundActiveEvent struct {
	Type    string `json:"type"`
	RoundID string `json:"round_id"`
}

type MultiplierTickEvent struct {
	Type       string  `json:"type"`
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
}

type BetPlacedEvent struct {
	Type      string  `json:"type"`
	RoundID   string  `json:"round_id"`
	PlayerID  string  `json:"player_id"`
	USDAmount float64 `json:"usd_amount"`
	Currency  string  `json:"currency"`
}

type CashoutEvent struct {
	Type       string  `json:"type"`
	RoundID    string  `json:"round_id"`
	PlayerID   string  `json:"player_id"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
}

type RoundCrashedEvent struct {
	Type       string  `json:"type"`
	RoundID    string  `json:"round_id"`
	CrashPoint float64 `json:"crash_point"`
	Seed       string  `json:"seed"`
}
