package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/bethesda-shelter/bedline/internal/http/handlers"
	"github.com/bethesda-shelter/bedline/internal/repo/postgres"
	"github.com/bethesda-shelter/bedline/internal/service"
	"github.com/bethesda-shelter/bedline/internal/sweeper"
	"github.com/bethesda-shelter/bedline/pkg/auth"
	"github.com/bethesda-shelter/bedline/pkg/config"
	"github.com/bethesda-shelter/bedline/pkg/database"
	"github.com/bethesda-shelter/bedline/pkg/events"
	"github.com/bethesda-shelter/bedline/pkg/logger"
	mw "github.com/bethesda-shelter/bedline/pkg/middleware"
)

func main() {
	godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Error("Failed to ensure schema", "error", err)
		os.Exit(1)
	}
	if err := database.SeedBeds(ctx, pool, cfg.Shelter.TotalBeds); err != nil {
		logger.Error("Failed to seed beds", "error", err)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("Failed to parse redis url", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.Password != "" {
		redisOpts.Password = cfg.Redis.Password
	}
	redisOpts.DB = cfg.Redis.DB
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	eventBus, err := events.NewNATSEventBus(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	// Repositories
	store := postgres.NewStore(pool)
	bedRepo := postgres.NewBedRepo(pool)
	reservationRepo := postgres.NewReservationRepo(pool)
	callLogRepo := postgres.NewCallLogRepo(pool)

	// Services
	bedService := service.NewBedService(store, bedRepo, reservationRepo, eventBus)
	reservationService := service.NewReservationService(
		store, bedRepo, reservationRepo, callLogRepo, eventBus, cfg.Shelter.HoldDuration)

	// Background jobs: the process owns both sweepers and tears them down.
	expirySweep := sweeper.New("reservation-expiry", cfg.Shelter.SweepInterval, func(ctx context.Context) {
		if _, err := reservationService.ExpireOld(ctx); err != nil {
			logger.ErrorContext(ctx, "Expiry sweep failed", "error", err)
		}
	})
	retentionSweep := sweeper.New("call-log-retention", 24*time.Hour, func(ctx context.Context) {
		cutoff := time.Now().UTC().Add(-cfg.Shelter.CallLogRetention)
		if n, err := callLogRepo.DeleteOlderThan(ctx, cutoff); err != nil {
			logger.ErrorContext(ctx, "Call log cleanup failed", "error", err)
		} else if n > 0 {
			logger.InfoContext(ctx, "Deleted old call logs", "count", n)
		}
	})
	expirySweep.Start(ctx)
	retentionSweep.Start(ctx)

	h := handlers.New(bedService, reservationService, cfg.Auth.JWTSecret, cfg.Shelter.TotalBeds)
	idempotency := mw.Idempotency(mw.NewRedisIdempotencyStore(redisClient))

	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("bedline"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Route("/v1", func(r chi.Router) {
		// Public surface: voice agent and anyone on the phone line.
		r.Route("/beds", func(r chi.Router) {
			r.Get("/", h.GetBedSummary)
			r.Get("/available", h.GetAvailableBeds)
			r.With(h.RequireRole(auth.RoleStaff)).Get("/detailed", h.ListBedsDetailed)
			r.Get("/{bedNumber}", h.GetBedStatus)

			// Staff actions
			r.With(h.RequireRole(auth.RoleStaff)).Post("/{bedNumber}/hold", h.HoldBed)
			r.With(h.RequireRole(auth.RoleStaff)).Post("/{bedNumber}/checkin", h.CheckInBed)
			r.With(h.RequireRole(auth.RoleStaff)).Post("/{bedNumber}/checkout", h.CheckOutBed)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.With(idempotency).Post("/", h.CreateReservation)
			r.With(h.RequireRole(auth.RoleStaff)).Get("/", h.ListActiveReservations)
			r.With(h.RequireRole(auth.RoleStaff)).Post("/expire", h.ExpireReservations)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.RequireRole(auth.RoleAdmin))
			r.Post("/beds/simulate", h.SimulateOccupancy)
			r.Post("/beds/{bedNumber}/force-available", h.ForceBedAvailable)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down...")
		expirySweep.Stop()
		retentionSweep.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Starting bedline API",
		"port", cfg.Server.Port,
		"total_beds", cfg.Shelter.TotalBeds,
		"hold_duration", cfg.Shelter.HoldDuration.String(),
		"sweep_interval", cfg.Shelter.SweepInterval.String(),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
