package wallet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

const REDIS_KEY_WALLET_PREFIX = "wallet:"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("amount must be non-negative")
)

// Ledger holds per-(player, currency) balances. Debit is an atomic
// check-then-subtract and never leaves a balance negative.
type Ledger interface {
	Debit(ctx context.Context, playerID, currency string, amount float64) (float64, error)
	Credit(ctx context.Context, playerID, currency string, amount float64) (float64, error)
	Balance(ctx context.Context, playerID, currency string) (float64, error)
}

func balanceKey(playerID, currency string) string {
	return REDIS_KEY_WALLET_PREFIX + playerID + ":" + currency
}

// The check and subtract must be one atomic step: a GET/IncrByFloat pair with
// rollback can interleave with a concurrent debit and observe a stale balance.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if bal < amount then
	return false
end
return redis.call('INCRBYFLOAT', KEYS[1], '-' .. ARGV[1])
`)

// RedisLedger stores balances in redis, one key per (player, currency).
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Debit(ctx context.Context, playerID, currency string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	res, err := debitScript.Run(ctx, l.client, []string{balanceKey(playerID, currency)}, amount).Result()
	if err == redis.Nil {
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("wallet debit: %w", err)
	}
	newBal, err := strconv.ParseFloat(res.(string), 64)
	if err != nil {
		return 0, fmt.Errorf("wallet debit: parse balance: %w", err)
	}
	return newBal, nil
}

func (l *RedisLedger) Credit(ctx context.Context, playerID, currency string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	newBal, err := l.client.IncrByFloat(ctx, balanceKey(playerID, currency), amount).Result()
	if err != nil {
		return 0, fmt.Errorf("wallet credit: %w", err)
	}
	return newBal, nil
}

func (l *RedisLedger) Balance(ctx context.Context, playerID, currency string) (float64, error) {
	bal, err := l.client.Get(ctx, balanceKey(playerID, currency)).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet balance: %w", err)
	}
	return bal, nil
}

// MemoryLedger is an in-process Ledger with the same contract as RedisLedger.
// Used in tests and for running without redis.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]float64)}
}

func (l *MemoryLedger) Debit(ctx context.Context, playerID, currency string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey(playerID, currency)
	if l.balances[key] < amount {
		return 0, ErrInsufficientBalance
	}
	l.balances[key] -= amount
	return l.balances[key], nil
}

func (l *MemoryLedger) Credit(ctx context.Context, playerID, currency string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey(playerID, currency)
	l.balances[key] += amount
	return l.balances[key], nil
}

func (l *MemoryLedger) Balance(ctx context.Context, playerID, currency string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey(playerID, currency)], nil
}
