package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"gatescan/internal/application"
	appauth "gatescan/internal/application/auth"
	"gatescan/internal/application/report"
	"gatescan/internal/application/scanner"
	"gatescan/internal/config"
	"gatescan/internal/domain/capture"
	"gatescan/internal/domain/ocr"
	"gatescan/internal/domain/session"
	"gatescan/internal/domain/ticket"
	"gatescan/internal/infra/capture/snapshot"
	"gatescan/internal/infra/capture/spooldir"
	"gatescan/internal/infra/db/postgres"
	"gatescan/internal/infra/db/sqlite"
	"gatescan/internal/infra/httpserver"
	"gatescan/internal/infra/ocr/hosted"
	"gatescan/internal/infra/ocr/openaivision"
	"gatescan/internal/infra/session/filestore"
	minioStore "gatescan/internal/infra/storage"
	"gatescan/internal/infra/verify/httpapi"
	"gatescan/internal/middleware"
	"gatescan/internal/monitoring"
)

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	verifier := httpapi.NewClient(cfg.Verifier.BaseURL, cfg.Verifier.Timeout.Std())

	var source capture.Source
	switch cfg.Capture.Source {
	case "command":
		source = snapshot.New(cfg.Capture.Command)
	default:
		source = spooldir.New(cfg.Capture.SpoolDir)
	}

	var recognizer ocr.Recognizer
	switch cfg.OCR.Backend {
	case "hosted":
		recognizer = hosted.NewClient(cfg.OCR.Endpoint, cfg.OCR.APIKey, 20*time.Second)
	default:
		recognizer = openaivision.NewClient(cfg.OCR.APIKey, cfg.OCR.Model)
	}

	var journal ticket.Journal
	healthCheckers := map[string]middleware.HealthChecker{}
	switch cfg.Journal.Driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Journal.Path)
		if err != nil {
			log.Fatalf("sqlite open error: %v", err)
		}
		defer db.Close()
		repo := sqlite.NewJournalRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("sqlite schema error: %v", err)
		}
		journal = repo
		healthCheckers["journal"] = &middleware.DatabaseHealthChecker{DB: db}
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Journal.DSN)
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		defer db.Close()
		repo := postgres.NewJournalRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema error: %v", err)
		}
		journal = repo
		healthCheckers["journal"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	sessions := filestore.New(cfg.Session.Dir)
	authSvc := appauth.NewService(verifier, sessions)

	workflow := scanner.New(source, recognizer, verifier, journal, application.SystemClock{}, scanner.Config{
		PollInterval:        cfg.Scanner.PollInterval.Std(),
		RequireConfirmation: cfg.Scanner.RequireConfirmation,
		ResultDisplay:       cfg.Scanner.ResultDisplay.Std(),
		HistoryLimit:        cfg.Scanner.HistoryLimit,
	})

	// A session persisted by a previous run keeps the kiosk logged in across
	// restarts.
	if sess, err := sessions.Load(); err == nil {
		workflow.Attach(sess)
		workflow.Seed(ctx)
		log.Printf("restored session for moderator id=%s", sess.Moderator.ID)
	} else if !errors.Is(err, session.ErrNotFound) {
		log.Printf("session restore error: %v", err)
	}

	exporter := report.NewExporter(application.SystemClock{})

	var artifacts httpserver.ArtifactStore
	if cfg.Minio.Enabled {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			log.Fatalf("minio init error: %v", err)
		}
		artifacts = store
	}

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(30, 10))
	mux.Use(middleware.SessionAuth(sessions))

	mux.Get("/health", middleware.HealthHandler(healthCheckers))
	mux.Get("/livez", middleware.LivenessHandler)
	mux.Handle("/metrics", monitoring.Handler())
	mux.Mount("/", httpserver.NewRouter(workflow, authSvc, exporter, artifacts))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("kiosk agent listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	workflow.Stop()

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
