package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func (s *FiberServer) RegisterRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.getRoundHandler)
	api.Post("/round/bet", s.placeBetHandler)
	api.Post("/round/cashout", s.cashoutHandler)
	api.Post("/round/verify", s.verifyHandler)
	api.Get("/rounds/history", s.historyHandler)
	api.Get("/wallet/:playerId/:currency", s.getBalanceHandler)
	api.Post("/wallet/:playerId/:currency", s.depositHandler)

	s.App.Get("/ws", websocket.New(s.websocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"engine": fiber.Map{
			"phase":             s.engine.Phase(),
			"connected_clients": s.hub.ClientCount(),
			"sink_failures":     s.engine.SinkFailures(),
		},
	}
	return c.JSON(health)
}
