package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"meteor/internal/fair"
	"meteor/internal/price"
	"meteor/internal/wallet"
)

const (
	DEFAULT_BETTING_WINDOW = 3 * time.Second
	DEFAULT_TICK_INTERVAL  = 100 * time.Millisecond
	DEFAULT_COOLDOWN       = 3 * time.Second
	DEFAULT_GROWTH_RATE    = 0.1 // multiplier units per second
	DEFAULT_MIN_CRASH      = 1.01
	DEFAULT_MAX_CRASH      = 120.0
	DEFAULT_DECAY_RATE     = 0.1

	SINK_TIMEOUT = 5 * time.Second
)

var (
	ErrBettingClosed    = errors.New("betting is closed")
	ErrDuplicateBet     = errors.New("player already has a bet this round")
	ErrInvalidBetAmount = errors.New("bet amount must be positive")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrRoundNotActive   = errors.New("round is not active")
	ErrNoActiveBet      = errors.New("no active bet for player")
)

type Config struct {
	BettingWindow time.Duration
	TickInterval  time.Duration
	Cooldown      time.Duration
	GrowthRate    float64
	MinCrash      float64
	MaxCrash      float64
	DecayRate     float64
}

func DefaultConfig() Config {
	return Config{
		BettingWindow: DEFAULT_BETTING_WINDOW,
		TickInterval:  DEFAULT_TICK_INTERVAL,
		Cooldown:      DEFAULT_COOLDOWN,
		GrowthRate:    DEFAULT_GROWTH_RATE,
		MinCrash:      DEFAULT_MIN_CRASH,
		MaxCrash:      DEFAULT_MAX_CRASH,
		DecayRate:     DEFAULT_DECAY_RATE,
	}
}

// Engine owns exactly one live Round at a time and drives it through
// waiting -> active -> crashed. One mutex guards the round's phase, live
// multiplier, and bet settlement: the crash check and individual cashouts
// compete for the same state and must serialize against each other.
type Engine struct {
	cfg    Config
	oracle *fair.Oracle
	ledger wallet.Ledger
	prices price.Source
	sink   Sink
	hub    Broadcaster

	mu           sync.Mutex
	round        *Round
	gen          int // bumped per round; invalidates stale timers and ticks
	nonce        int
	stopped      bool
	bettingTimer *time.Timer
	nextTimer    *time.Timer
	tickStop     chan struct{}

	sinkFailures atomic.Uint64

	now func() time.Time
}

func NewEngine(cfg Config, oracle *fair.Oracle, ledger wallet.Ledger, prices price.Source, sink Sink, hub Broadcaster) *Engine {
	if cfg.BettingWindow <= 0 {
		cfg.BettingWindow = DEFAULT_BETTING_WINDOW
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DEFAULT_TICK_INTERVAL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DEFAULT_COOLDOWN
	}
	if cfg.GrowthRate <= 0 {
		cfg.GrowthRate = DEFAULT_GROWTH_RATE
	}
	if cfg.MinCrash <= 0 {
		cfg.MinCrash = DEFAULT_MIN_CRASH
	}
	if cfg.MaxCrash <= 0 {
		cfg.MaxCrash = DEFAULT_MAX_CRASH
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = DEFAULT_DECAY_RATE
	}
	return &Engine{
		cfg:    cfg,
		oracle: oracle,
		ledger: ledger,
		prices: prices,
		sink:   sink,
		hub:    hub,
		now:    time.Now,
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Start creates the first round and begins the betting window.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = false
	e.startRoundLocked()
}

// Stop cancels pending timers and the ticker. In-flight bets and cashouts
// past their critical section still complete.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.gen++
	if e.bettingTimer != nil {
		e.bettingTimer.Stop()
		e.bettingTimer = nil
	}
	if e.nextTimer != nil {
		e.nextTimer.Stop()
		e.nextTimer = nil
	}
	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}
	e.mu.Unlock()
	log.Println("[ENGINE] Stopped")
}

// CurrentRound returns a deep copy of the live round, or nil.
func (e *Engine) CurrentRound() *Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return nil
	}
	return e.round.snapshot()
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return ""
	}
	return e.round.Phase
}

// SinkFailures reports how many persistence/audit writes have been dropped
// since startup. Nonzero means the persisted history may lag the in-memory
// truth.
func (e *Engine) SinkFailures() uint64 {
	return e.sinkFailures.Load()
}

// PlaceBet accepts a stake while the round is in the betting window. The
// price lookup runs outside the round mutex; the wallet debit and the bet
// append are one critical section so the balance and the bet list never
// diverge.
func (e *Engine) PlaceBet(ctx context.Context, playerID string, usdAmount float64, currency string) (*Bet, error) {
	if usdAmount <= 0 {
		return nil, ErrInvalidBetAmount
	}

	e.mu.Lock()
	open := !e.stopped && e.round != nil && e.round.Phase == PhaseWaiting
	e.mu.Unlock()
	if !open {
		return nil, ErrBettingClosed
	}

	unitPrice, err := e.prices.GetUnitPrice(ctx, currency)
	if err != nil {
		if errors.Is(err, price.ErrUnsupportedCurrency) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	cryptoAmount := usdAmount / unitPrice

	e.mu.Lock()
	if e.stopped || e.round == nil || e.round.Phase != PhaseWaiting {
		e.mu.Unlock()
		return nil, ErrBettingClosed
	}
	r := e.round
	if r.findBet(playerID) != nil {
		e.mu.Unlock()
		return nil, ErrDuplicateBet
	}
	newBalance, err := e.ledger.Debit(ctx, playerID, currency, cryptoAmount)
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return nil, wallet.ErrInsufficientBalance
		}
		return nil, fmt.Errorf("place bet: %w", err)
	}
	bet := &Bet{
		PlayerID:     playerID,
		USDAmount:    usdAmount,
		CryptoAmount: cryptoAmount,
		Currency:     currency,
		PriceAtTime:  unitPrice,
		PlacedAt:     e.now(),
	}
	r.Bets = append(r.Bets, bet)
	betCopy := *bet
	roundID := r.ID
	e.mu.Unlock()

	go e.record(Transaction{
		Kind:             "bet",
		PlayerID:         playerID,
		RoundID:          roundID,
		USDAmount:        usdAmount,
		CryptoAmount:     cryptoAmount,
		Currency:         currency,
		PriceAtTime:      unitPrice,
		ResultingBalance: newBalance,
		CreatedAt:        betCopy.PlacedAt,
	})
	e.hub.Broadcast(BetPlacedEvent{
		Type:      "bet_placed",
		RoundID:   roundID,
		PlayerID:  playerID,
		USDAmount: usdAmount,
		Currency:  currency,
	})
	log.Printf("[ENGINE] %s bet $%.2f (%f %s) on round %s", playerID, usdAmount, cryptoAmount, currency, roundID)
	return &betCopy, nil
}

// CashOut locks in the live multiplier for the player's bet. The phase
// check, multiplier read, cashout mark, and wallet credit are one critical
// section: a cashout racing the crash tick either completes before the phase
// flips or observes PhaseCrashed and fails. Two cashouts for the same bet
// cannot both pass the CashedOut check.
func (e *Engine) CashOut(ctx context.Context, playerID string) (*CashoutResult, error) {
	e.mu.Lock()
	if e.stopped || e.round == nil || e.round.Phase != PhaseActive {
		e.mu.Unlock()
		return nil, ErrRoundNotActive
	}
	r := e.round
	bet := r.findBet(playerID)
	if bet == nil || bet.CashedOut {
		e.mu.Unlock()
		return nil, ErrNoActiveBet
	}
	multiplier := r.CurrentMultiplier
	cryptoPayout := bet.CryptoAmount * multiplier
	usdPayout := cryptoPayout * bet.PriceAtTime

	bet.CashedOut = true
	bet.CashoutMultiplier = multiplier
	bet.Payout = cryptoPayout
	bet.USDPayout = usdPayout

	newBalance, err := e.ledger.Credit(ctx, playerID, bet.Currency, cryptoPayout)
	if err != nil {
		// wallet and bet state must not diverge
		bet.CashedOut = false
		bet.CashoutMultiplier = 0
		bet.Payout = 0
		bet.USDPayout = 0
		e.mu.Unlock()
		return nil, fmt.Errorf("cashout credit: %w", err)
	}
	roundID := r.ID
	currency := bet.Currency
	cryptoAmount := bet.CryptoAmount
	priceAtTime := bet.PriceAtTime
	e.mu.Unlock()

	go e.record(Transaction{
		Kind:             "cashout",
		PlayerID:         playerID,
		RoundID:          roundID,
		USDAmount:        usdPayout,
		CryptoAmount:     cryptoPayout,
		Currency:         currency,
		PriceAtTime:      priceAtTime,
		ResultingBalance: newBalance,
		CreatedAt:        e.now(),
	})
	e.hub.Broadcast(CashoutEvent{
		Type:       "player_cashed_out",
		RoundID:    roundID,
		PlayerID:   playerID,
		Multiplier: multiplier,
		Payout:     cryptoPayout,
	})
	log.Printf("[ENGINE] %s cashed out at %.2fx on round %s (%f %s staked)", playerID, multiplier, roundID, cryptoAmount, currency)
	return &CashoutResult{
		RoundID:    roundID,
		Multiplier: multiplier,
		Payout:     cryptoPayout,
		USDPayout:  usdPayout,
		Balance:    newBalance,
	}, nil
}

// startRoundLocked commits a fresh round and arms the betting window timer.
// Caller holds e.mu.
func (e *Engine) startRoundLocked() {
	seed, seedHash, err := e.oracle.Commit()
	if err != nil {
		log.Printf("[ENGINE] Seed commit failed: %v, retrying in %s", err, e.cfg.Cooldown)
		e.nextTimer = time.AfterFunc(e.cfg.Cooldown, e.nextRound)
		return
	}
	e.nonce++
	e.gen++
	gen := e.gen
	roundID := fmt.Sprintf("R%d-%d", e.now().Unix(), e.nonce)
	crashPoint := e.oracle.CrashPoint(seed, roundID, e.cfg.MinCrash, e.cfg.MaxCrash, e.cfg.DecayRate)
	e.round = newRound(roundID, seed, seedHash, crashPoint, e.now())
	e.bettingTimer = time.AfterFunc(e.cfg.BettingWindow, func() { e.activate(gen) })

	e.hub.Broadcast(RoundCreatedEvent{
		Type:            "round_created",
		RoundID:         roundID,
		SeedHash:        seedHash,
		BettingWindowMs: e.cfg.BettingWindow.Milliseconds(),
	})
	log.Printf("[ENGINE] Round %s created, commitment %s...", roundID, seedHash[:16])
}

// activate moves the round into the active phase and starts the ticker.
// Idempotent: a stale generation or an already-advanced phase is a no-op, so
// a concurrently stopped engine cannot double-fire the transition.
func (e *Engine) activate(gen int) {
	e.mu.Lock()
	if e.stopped || gen != e.gen || e.round == nil || e.round.Phase != PhaseWaiting {
		e.mu.Unlock()
		return
	}
	r := e.round
	r.Phase = PhaseActive
	r.ActivatedAt = e.now()
	stop := make(chan struct{})
	e.tickStop = stop
	roundID := r.ID
	bets := len(r.Bets)
	e.mu.Unlock()

	go e.runTicker(gen, stop)
	e.hub.Broadcast(RoundActiveEvent{Type: "round_active", RoundID: roundID})
	log.Printf("[ENGINE] Round %s active with %d bets", roundID, bets)
}

func (e *Engine) runTicker(gen int, stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick(gen)
		case <-stop:
			return
		}
	}
}

// tick advances the live multiplier and detects the crash. The comparison
// against the crash point happens under the round mutex, so a cashout either
// sees the pre-crash multiplier or the crashed phase, never a multiplier at
// or above the crash point.
func (e *Engine) tick(gen int) {
	e.mu.Lock()
	if e.stopped || gen != e.gen || e.round == nil || e.round.Phase != PhaseActive {
		e.mu.Unlock()
		return
	}
	r := e.round
	elapsed := e.now().Sub(r.ActivatedAt).Seconds()
	multiplier := 1 + e.cfg.GrowthRate*elapsed

	if multiplier >= r.CrashPoint {
		e.crashLocked()
		return
	}

	r.CurrentMultiplier = multiplier
	if multiplier > r.MaxMultiplier {
		r.MaxMultiplier = multiplier
	}
	roundID := r.ID
	e.mu.Unlock()

	e.hub.Broadcast(MultiplierTickEvent{Type: "multiplier_tick", RoundID: roundID, Multiplier: multiplier})
}

// crashLocked performs the terminal transition. Caller holds e.mu; the lock
// is released before any persistence or settlement I/O.
func (e *Engine) crashLocked() {
	r := e.round
	r.Phase = PhaseCrashed
	r.CurrentMultiplier = r.CrashPoint
	if r.CrashPoint > r.MaxMultiplier {
		r.MaxMultiplier = r.CrashPoint
	}
	r.EndTime = e.now()

	if e.tickStop != nil {
		close(e.tickStop)
		e.tickStop = nil
	}

	var losses []Bet
	for _, b := range r.Bets {
		if !b.CashedOut {
			losses = append(losses, *b)
		}
	}
	archive := RoundArchive{
		ID:            r.ID,
		Seed:          r.Seed,
		SeedHash:      r.SeedHash,
		CrashPoint:    r.CrashPoint,
		MaxMultiplier: r.MaxMultiplier,
		StartedAt:     r.StartTime,
		EndedAt:       r.EndTime,
	}
	roundID, seed, crashPoint := r.ID, r.Seed, r.CrashPoint
	if !e.stopped {
		e.nextTimer = time.AfterFunc(e.cfg.Cooldown, e.nextRound)
	}
	e.mu.Unlock()

	e.hub.Broadcast(RoundCrashedEvent{
		Type:       "round_crashed",
		RoundID:    roundID,
		CrashPoint: crashPoint,
		Seed:       seed,
	})
	go e.settleLosses(roundID, losses)
	go e.persistRound(archive)
	log.Printf("[ENGINE] Round %s crashed at %.2fx, %d bets lost", roundID, crashPoint, len(losses))
}

func (e *Engine) nextRound() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.startRoundLocked()
}

// settleLosses records a loss transaction for every bet left standing at the
// crash. The stake was debited at placement, so there is no wallet movement.
func (e *Engine) settleLosses(roundID string, losses []Bet) {
	ctx, cancel := context.WithTimeout(context.Background(), SINK_TIMEOUT)
	defer cancel()
	for _, b := range losses {
		balance, err := e.ledger.Balance(ctx, b.PlayerID, b.Currency)
		if err != nil {
			log.Printf("[ENGINE] Balance lookup failed for %s: %v", b.PlayerID, err)
		}
		e.record(Transaction{
			Kind:             "loss",
			PlayerID:         b.PlayerID,
			RoundID:          roundID,
			USDAmount:        b.USDAmount,
			CryptoAmount:     b.CryptoAmount,
			Currency:         b.Currency,
			PriceAtTime:      b.PriceAtTime,
			ResultingBalance: balance,
			CreatedAt:        e.now(),
		})
	}
}

func (e *Engine) persistRound(archive RoundArchive) {
	ctx, cancel := context.WithTimeout(context.Background(), SINK_TIMEOUT)
	defer cancel()
	if err := e.sink.SaveRound(ctx, archive); err != nil {
		e.sinkFailures.Add(1)
		log.Printf("[ENGINE] Round persistence failed for %s: %v", archive.ID, err)
	}
}

func (e *Engine) record(tx Transaction) {
	ctx, cancel := context.WithTimeout(context.Background(), SINK_TIMEOUT)
	defer cancel()
	if err := e.sink.RecordTransaction(ctx, tx); err != nil {
		e.sinkFailures.Add(1)
		log.Printf("[ENGINE] Transaction record failed (%s %s round %s): %v", tx.Kind, tx.PlayerID, tx.RoundID, err)
	}
}
