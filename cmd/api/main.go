package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spend-enricher/internal/api/handlers"
	"github.com/dvloznov/spend-enricher/internal/api/middleware"
	"github.com/dvloznov/spend-enricher/internal/app"
	"github.com/dvloznov/spend-enricher/internal/config"
	"github.com/dvloznov/spend-enricher/internal/jobs"
	"github.com/dvloznov/spend-enricher/internal/jobs/inmemory"
	"github.com/dvloznov/spend-enricher/internal/logger"
	"github.com/dvloznov/spend-enricher/internal/sources"
)

func main() {
	configPath := flag.String("config", "enricher.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

	ctx := logger.WithContext(context.Background(), log)

	// Ambiguous files wait for POST /api/jobs/{id}/mapping.
	ingestor := app.NewIngestor(ctx, cfg, nil)

	objects := sources.NewGCSStore()
	defer objects.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.BufferSize, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
	)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting import workers")
		if err := jobQueue.Start(workerCtx, jobs.NewImportHandler(ingestor)); err != nil {
			log.Error().Err(err).Msg("Import workers stopped with error")
		}
	}()

	enricher := app.NewEnricher(cfg)

	importsHandler := handlers.NewImportsHandler(jobQueue, sources.NewLoader(objects), cfg.Server.MaxUploadMB<<20, log)
	jobsHandler := handlers.NewJobsHandler(jobStore, ingestor, log)
	enrichHandler := handlers.NewEnrichHandler(jobStore, enricher, log)
	pillarsHandler := handlers.PillarsHandler{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/imports", importsHandler.CreateImport)
	mux.HandleFunc("GET /api/jobs", jobsHandler.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.GetJob(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/jobs/{id}/mapping", func(w http.ResponseWriter, r *http.Request) {
		jobsHandler.ConfirmMapping(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/enrich", enrichHandler.StartEnrichment)
	mux.HandleFunc("GET /api/enrich/{id}", func(w http.ResponseWriter, r *http.Request) {
		enrichHandler.GetSession(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("DELETE /api/enrich/{id}", func(w http.ResponseWriter, r *http.Request) {
		enrichHandler.CancelSession(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/pillars", pillarsHandler.ListPillars)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("classifier", cfg.Classifier.BaseURL).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
