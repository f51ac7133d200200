package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	SEED_BYTES       = 32
	VERIFY_TOLERANCE = 0.01
)

var (
	ErrInvalidSeed = errors.New("seed does not match commitment")
	ErrMismatch    = errors.New("crash point does not match seed")
)

// Oracle derives provably fair crash points. The HMAC key is a server-side
// secret: commitments are verifiable by anyone once the seed is revealed, but
// crash points cannot be precomputed without the key.
type Oracle struct {
	key []byte
}

func NewOracle(key string) *Oracle {
	return &Oracle{key: []byte(key)}
}

// NewOracleFromEnv reads the HMAC key from METEOR_FAIR_KEY.
func NewOracleFromEnv() *Oracle {
	key := os.Getenv("METEOR_FAIR_KEY")
	if key == "" {
		key = "dev-only-fair-key"
	}
	return NewOracle(key)
}

// Commit generates a fresh round seed and its SHA-256 commitment. The
// commitment is published before any bet is accepted; the seed stays hidden
// until the round crashes.
func (o *Oracle) Commit() (seed, seedHash string, err error) {
	b := make([]byte, SEED_BYTES)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate seed: %w", err)
	}
	seed = hex.EncodeToString(b)
	return seed, HashCommitment(seed), nil
}

// HashCommitment returns the hex SHA-256 of a seed.
func HashCommitment(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// CrashPoint deterministically maps (seed, roundID) to a crash multiplier.
// HMAC-SHA256 over seed||roundID, first 4 digest bytes as a big-endian uint
// normalized to [0, 1), then pushed through the inverse exponential CDF and
// clamped to [minCrash, maxCrash]. Most rounds crash low; long tails are rare.
func (o *Oracle) CrashPoint(seed, roundID string, minCrash, maxCrash, decayRate float64) float64 {
	h := hmac.New(sha256.New, o.key)
	h.Write([]byte(seed))
	h.Write([]byte(roundID))
	digest := h.Sum(nil)

	n := binary.BigEndian.Uint32(digest[:4])
	u := float64(n) / float64(math.MaxUint32+1.0)

	crash := minCrash + math.Log(1-u)/-decayRate

	if crash < minCrash {
		crash = minCrash
	}
	if crash > maxCrash {
		crash = maxCrash
	}
	return crash
}

// Verify checks a revealed seed against its published commitment and the
// claimed crash point. The tolerance covers floating-point representation
// differences between producer and verifier, not algorithmic drift.
func (o *Oracle) Verify(seed, roundID, seedHash string, claimedCrashPoint, minCrash, maxCrash, decayRate float64) error {
	if HashCommitment(seed) != seedHash {
		return ErrInvalidSeed
	}
	expected := o.CrashPoint(seed, roundID, minCrash, maxCrash, decayRate)
	if math.Abs(expected-claimedCrashPoint) > VERIFY_TOLERANCE {
		return fmt.Errorf("%w: expected %.2f, claimed %.2f", ErrMismatch, expected, claimedCrashPoint)
	}
	return nil
}
