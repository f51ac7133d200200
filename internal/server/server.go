package server

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"meteor/internal/cache"
	"meteor/internal/database"
	"meteor/internal/fair"
	"meteor/internal/game"
	"meteor/internal/price"
	"meteor/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	hub    *game.Hub
	engine *game.Engine
	oracle *fair.Oracle
	ledger wallet.Ledger
	prices price.Source
}

func New() (*FiberServer, error) {
	db, err := database.New()
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	redisService, err := cache.New()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	oracle := fair.NewOracleFromEnv()
	ledger := wallet.NewRedisLedger(redisService.Client())
	prices := price.NewCachedSource(price.NewStaticSourceFromEnv(), redisService.Client(), 0)

	hub := game.NewHub()
	engine := game.NewEngine(engineConfigFromEnv(), oracle, ledger, prices, db, hub)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "meteor",
			AppName:       "meteor",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  redisService,
		hub:    hub,
		engine: engine,
		oracle: oracle,
		ledger: ledger,
		prices: prices,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	engine.Start()
	log.Println("[SERVER] Round engine started")

	return server, nil
}

// Shutdown stops the round engine before closing connections so no tick or
// scheduled round fires against a closed backend.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func engineConfigFromEnv() game.Config {
	cfg := game.DefaultConfig()
	cfg.BettingWindow = time.Duration(getEnvAsInt("METEOR_BETTING_WINDOW_MS", int(cfg.BettingWindow.Milliseconds()))) * time.Millisecond
	cfg.TickInterval = time.Duration(getEnvAsInt("METEOR_TICK_INTERVAL_MS", int(cfg.TickInterval.Milliseconds()))) * time.Millisecond
	cfg.Cooldown = time.Duration(getEnvAsInt("METEOR_COOLDOWN_MS", int(cfg.Cooldown.Milliseconds()))) * time.Millisecond
	cfg.GrowthRate = getEnvAsFloat("METEOR_GROWTH_RATE", cfg.GrowthRate)
	cfg.MinCrash = getEnvAsFloat("METEOR_MIN_CRASH", cfg.MinCrash)
	cfg.MaxCrash = getEnvAsFloat("METEOR_MAX_CRASH", cfg.MaxCrash)
	cfg.DecayRate = getEnvAsFloat("METEOR_DECAY_RATE", cfg.DecayRate)
	return cfg
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
