package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chasehq/followup/internal/api"
	"github.com/chasehq/followup/internal/auth"
	"github.com/chasehq/followup/internal/config"
	"github.com/chasehq/followup/internal/followup"
	"github.com/chasehq/followup/internal/mailer"
	"github.com/chasehq/followup/internal/pkg/distlock"
	"github.com/chasehq/followup/internal/render"
	"github.com/chasehq/followup/internal/scheduler"
	"github.com/chasehq/followup/internal/store"
	"github.com/chasehq/followup/internal/transport"
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database at %s: %v", cfg.Database.Path, err)
	}
	defer st.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	err = st.Init(initCtx)
	cancelInit()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	log.Printf("[Server] Database ready at %s", cfg.Database.Path)

	// Outbound follow-up transport.
	var sender transport.Sender
	switch cfg.Transport.Mode {
	case "ses":
		sesSender, err := transport.NewSESSender(
			cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region,
			cfg.SES.FromEmail, cfg.SES.FromName,
		)
		if err != nil {
			log.Fatalf("Failed to build SES transport: %v", err)
		}
		sender = sesSender
		log.Printf("[Server] Transport: SES (%s, from %s)", cfg.SES.Region, cfg.SES.FromEmail)
	default:
		sender = transport.NewGmailSender(
			cfg.Gmail.ClientID, cfg.Gmail.ClientSecret,
			cfg.Transport.Timeout(), st.SetGmailToken,
		)
		if !cfg.Gmail.Configured() {
			log.Printf("[Server] WARNING: Gmail transport selected but GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET are unset; token refresh will fail")
		}
		log.Printf("[Server] Transport: Gmail (per-user tokens)")
	}

	loc, err := time.LoadLocation(cfg.Scheduler.InputTZ)
	if err != nil {
		log.Fatalf("Invalid scheduler timezone %q: %v", cfg.Scheduler.InputTZ, err)
	}
	sched := scheduler.New(st, sender, render.New(), loc, cfg.Scheduler.TickInterval(), cfg.Scheduler.PerUserCap)

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			log.Printf("[Server] Redis unavailable; daily limiter and tick lock disabled: %v", err)
			rdb.Close()
		} else {
			defer rdb.Close()
			sched.SetDailyLimiter(scheduler.NewDailyLimiter(rdb))
			sched.SetTickLock(distlock.NewRedisLock(rdb, "scheduler-tick", 10*time.Minute))
			log.Printf("[Server] Daily limiter and tick lock enabled (redis %s)", cfg.Redis.Addr)
		}
	}

	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Account mail (verification codes, password resets).
	var accountMailer auth.AccountMailer
	if cfg.SMTP.Configured() {
		accountMailer = mailer.New(
			cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Password,
			cfg.SMTP.From, "Followup", cfg.App.BaseURL,
		)
		log.Printf("[Server] Account mail via %s", cfg.SMTP.Addr())
	} else {
		log.Printf("[Server] WARNING: SMTP not configured; verification codes are stored but not mailed")
	}

	secureCookies := strings.HasPrefix(cfg.App.BaseURL, "https://")
	sessions := auth.NewSessionManager(cfg.Auth.SessionSecret, cfg.Auth.CookieName, cfg.Auth.CookieTTL(), secureCookies)
	authSvc := auth.NewService(st, accountMailer)

	var gmailConnector *auth.GmailConnector
	if cfg.Gmail.Configured() {
		gmailConnector = auth.NewGmailConnector(st, sessions, cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.App.BaseURL)
		log.Printf("[Server] Gmail connect flow enabled (callback %s/api/gmail/callback)", cfg.App.BaseURL)
	}

	handlers := api.NewHandlers(st, followup.New(st, cfg.Scheduler.InputTZ), authSvc, sessions, sched)
	router := api.SetupRoutes(handlers, sessions, gmailConnector, nil)
	server := api.NewServer(cfg.Server.GetHost(), cfg.Server.Port, router)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[Server] Received %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}

	// Stop the loop before draining HTTP so no send is cut mid-flight.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] HTTP shutdown error: %v", err)
	}
	log.Printf("[Server] Shutdown complete")
}
