package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"meteor/internal/server"
)

func main() {
	srv, err := server.New()
	if err != nil {
		log.Fatalf("[SERVER] Startup failed: %v", err)
	}
	srv.RegisterRoutes()

	port := getEnv("PORT", "8080")
	go func() {
		if err := srv.Listen(":" + port); err != nil {
			log.Fatalf("[SERVER] Listen failed: %v", err)
		}
	}()
	log.Printf("[SERVER] Listening on :%s", port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("[SERVER] HTTP shutdown error: %v", err)
	}
	if err := srv.Shutdown(); err != nil {
		log.Printf("[SERVER] Shutdown error: %v", err)
	}
	log.Println("[SERVER] Stopped")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
