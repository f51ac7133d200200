package game

import (
	"time"
)

type Phase string

const (
	PhaseWaiting Phase = "waiting"
	PhaseActive  Phase = "active"
	PhaseCrashed Phase = "crashed"
)

// Bet is one player's stake in a round. A player holds at most one bet per
// round. Cashout fields are written exactly once, together with CashedOut.
type Bet struct {
	PlayerID          string    `json:"player_id"`
	USDAmount         float64   `json:"usd_amount"`
	CryptoAmount      float64   `json:"crypto_amount"`
	Currency          string    `json:"currency"`
	PriceAtTime       float64   `json:"price_at_time"`
	PlacedAt          time.Time `json:"placed_at"`
	CashedOut         bool      `json:"cashed_out"`
	CashoutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	Payout            float64   `json:"payout,omitempty"`     // in Currency units
	USDPayout         float64   `json:"usd_payout,omitempty"` // at PriceAtTime
}

// Round is one game cycle. Seed and CrashPoint stay hidden from clients until
// the crashed phase; the phase never regresses.
type Round struct {
	ID                string    `json:"round_id"`
	Seed              string    `json:"-"` // revealed only after crash
	SeedHash          string    `json:"seed_hash"`
	CrashPoint        float64   `json:"-"` // hidden until crash
	Phase             Phase     `json:"phase"`
	Bets              []*Bet    `json:"bets"`
	CurrentMultiplier float64   `json:"current_multiplier"`
	MaxMultiplier     float64   `json:"max_multiplier"`
	StartTime         time.Time `json:"start_time"`
	ActivatedAt       time.Time `json:"activated_at,omitempty"`
	EndTime           time.Time `json:"end_time,omitempty"`
}

func newRound(id, seed, seedHash string, crashPoint float64, now time.Time) *Round {
	return &Round{
		ID:                id,
		Seed:              seed,
		SeedHash:          seedHash,
		CrashPoint:        crashPoint,
		Phase:             PhaseWaiting,
		CurrentMultiplier: 1.0,
		MaxMultiplier:     1.0,
		StartTime:         now,
	}
}

func (r *Round) findBet(playerID string) *Bet {
	for _, b := range r.Bets {
		if b.PlayerID == playerID {
			return b
		}
	}
	return nil
}

// snapshot deep-copies the round so callers can read it outside the engine
// mutex.
func (r *Round) snapshot() *Round {
	cp := *r
	cp.Bets = make([]*Bet, len(r.Bets))
	for i, b := range r.Bets {
		bc := *b
		cp.Bets[i] = &bc
	}
	return &cp
}
