package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"meteor/internal/fair"
	"meteor/internal/game"
	"meteor/internal/price"
	"meteor/internal/wallet"
)

type betRequest struct {
	PlayerID  string  `json:"player_id"`
	USDAmount float64 `json:"usd_amount"`
	Currency  string  `json:"currency"`
}

type cashoutRequest struct {
	PlayerID string `json:"player_id"`
}

type verifyRequest struct {
	RoundID    string  `json:"round_id"`
	Seed       string  `json:"seed"`
	SeedHash   string  `json:"seed_hash,omitempty"`
	CrashPoint float64 `json:"crash_point"`
}

func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	round := s.engine.CurrentRound()
	if round == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no active round",
		})
	}
	return c.JSON(round)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req betRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	bet, err := s.engine.PlaceBet(c.Context(), req.PlayerID, req.USDAmount, req.Currency)
	if err != nil {
		return betError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"bet":     bet,
	})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req cashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	result, err := s.engine.CashOut(c.Context(), req.PlayerID)
	if err != nil {
		return betError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"result":  result,
	})
}

// verifyHandler lets anyone confirm a finished round's crash point against
// its published commitment. The seed hash can be supplied directly or looked
// up from the archived round.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.RoundID == "" || req.Seed == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "round_id and seed are required",
		})
	}

	seedHash := req.SeedHash
	if seedHash == "" {
		archived, err := s.db.GetRound(c.Context(), req.RoundID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "round not found",
			})
		}
		seedHash = archived.SeedHash
	}

	cfg := s.engine.Config()
	err := s.oracle.Verify(req.Seed, req.RoundID, seedHash, req.CrashPoint, cfg.MinCrash, cfg.MaxCrash, cfg.DecayRate)
	if err != nil {
		return c.JSON(fiber.Map{
			"valid": false,
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"valid": true})
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	rounds, err := s.db.RecentRounds(c.Context(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load round history",
		})
	}
	return c.JSON(fiber.Map{"rounds": rounds})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	currency := c.Params("currency")

	balance, err := s.ledger.Balance(c.Context(), playerID, currency)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read balance",
		})
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"currency":  currency,
		"balance":   balance,
	})
}

// depositHandler credits a wallet. Test/admin helper, not a payments surface.
func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	playerID := c.Params("playerId")
	currency := c.Params("currency")

	var body struct {
		Amount float64 `json:"amount"`
	}
	if err := c.BodyParser(&body); err != nil || body.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "amount must be positive",
		})
	}

	balance, err := s.ledger.Credit(c.Context(), playerID, currency, body.Amount)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to credit balance",
		})
	}
	return c.JSON(fiber.Map{
		"player_id": playerID,
		"currency":  currency,
		"balance":   balance,
	})
}

// betError maps engine failures onto HTTP statuses. Gameplay rejections are
// client errors; a missing price is the one upstream fault a caller can see.
func betError(c *fiber.Ctx, err error) error {
	status := fiber.StatusBadRequest
	switch {
	case errors.Is(err, game.ErrPriceUnavailable):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, wallet.ErrInsufficientBalance):
		status = fiber.StatusPaymentRequired
	case errors.Is(err, game.ErrBettingClosed),
		errors.Is(err, game.ErrDuplicateBet),
		errors.Is(err, game.ErrInvalidBetAmount),
		errors.Is(err, game.ErrRoundNotActive),
		errors.Is(err, game.ErrNoActiveBet),
		errors.Is(err, price.ErrUnsupportedCurrency):
		status = fiber.StatusBadRequest
	case errors.Is(err, fair.ErrInvalidSeed), errors.Is(err, fair.ErrMismatch):
		status = fiber.StatusBadRequest
	default:
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}
