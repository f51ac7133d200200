package wallet

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

func TestMemoryLedger_DebitCredit(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	tests := []struct {
		name    string
		setup   float64
		debit   float64
		wantBal float64
		wantErr error
	}{
		{
			name:    "debit within balance",
			setup:   0.002,
			debit:   0.001,
			wantBal: 0.001,
			wantErr: nil,
		},
		{
			name:    "debit exact balance",
			setup:   0.5,
			debit:   0.5,
			wantBal: 0,
			wantErr: nil,
		},
		{
			name:    "debit beyond balance",
			setup:   0.001,
			debit:   0.002,
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "debit from empty wallet",
			setup:   0,
			debit:   1,
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "negative debit rejected",
			setup:   1,
			debit:   -1,
			wantErr: ErrNegativeAmount,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player := "player-" + string(rune('a'+i))
			if tt.setup > 0 {
				if _, err := ledger.Credit(ctx, player, "BTC", tt.setup); err != nil {
					t.Fatalf("Credit() error = %v", err)
				}
			}

			newBal, err := ledger.Debit(ctx, player, "BTC", tt.debit)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Debit() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && math.Abs(newBal-tt.wantBal) > 1e-12 {
				t.Errorf("Debit() balance = %v, want %v", newBal, tt.wantBal)
			}
		})
	}
}

func TestMemoryLedger_FailedDebitLeavesBalance(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	ledger.Credit(ctx, "p1", "ETH", 0.5)
	if _, err := ledger.Debit(ctx, "p1", "ETH", 1.0); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Debit() error = %v, want ErrInsufficientBalance", err)
	}

	bal, _ := ledger.Balance(ctx, "p1", "ETH")
	if bal != 0.5 {
		t.Errorf("balance after failed debit = %v, want 0.5", bal)
	}
}

func TestMemoryLedger_CurrenciesIsolated(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	ledger.Credit(ctx, "p1", "BTC", 1)
	ledger.Credit(ctx, "p1", "ETH", 2)
	ledger.Credit(ctx, "p2", "BTC", 3)

	if bal, _ := ledger.Balance(ctx, "p1", "BTC"); bal != 1 {
		t.Errorf("p1 BTC = %v, want 1", bal)
	}
	if bal, _ := ledger.Balance(ctx, "p1", "ETH"); bal != 2 {
		t.Errorf("p1 ETH = %v, want 2", bal)
	}
	if bal, _ := ledger.Balance(ctx, "p2", "BTC"); bal != 3 {
		t.Errorf("p2 BTC = %v, want 3", bal)
	}
}

func TestMemoryLedger_ConcurrentDebits(t *testing.T) {
	// 100 concurrent debits of 1 against a balance of 50: exactly 50 must
	// succeed and the balance must end at zero, never negative.
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.Credit(ctx, "p1", "BTC", 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Debit(ctx, "p1", "BTC", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 {
		t.Errorf("successful debits = %d, want 50", succeeded)
	}
	bal, _ := ledger.Balance(ctx, "p1", "BTC")
	if bal != 0 {
		t.Errorf("final balance = %v, want 0", bal)
	}
}

func TestMemoryLedger_UnknownBalanceIsZero(t *testing.T) {
	ledger := NewMemoryLedger()
	bal, err := ledger.Balance(context.Background(), "nobody", "BTC")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if bal != 0 {
		t.Errorf("Balance() = %v, want 0", bal)
	}
}
