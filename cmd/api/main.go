package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stakeops/internal/api"
	"github.com/punchamoorthee/stakeops/internal/config"
	"github.com/punchamoorthee/stakeops/internal/logger"
	"github.com/punchamoorthee/stakeops/internal/remote"
	"github.com/punchamoorthee/stakeops/internal/service"
	"github.com/punchamoorthee/stakeops/internal/session"
	"github.com/punchamoorthee/stakeops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logger.Init(cfg.Logger, "stakeops-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.Options{
		UserID:       cfg.SessionUser,
		Remote:       remote.NewClient(remote.Config{BaseURL: cfg.RemoteBaseURL, Timeout: cfg.RemoteTimeout}),
		Bounds:       service.Bounds{Min: cfg.MinAmount, Max: cfg.MaxAmount},
		PollInterval: cfg.PollInterval,
		Log:          log,
	}

	// Postgres is optional; without it the session keeps everything in memory.
	var pinger api.Pinger
	if cfg.DBSource != "" {
		db, err := store.NewStore(cfg.DBSource)
		if err != nil {
			log.WithError(err).Fatal("unable to connect to database")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			log.WithError(err).Fatal("unable to apply schema")
		}
		opts.LedgerBackend = db
		opts.PendingBackend = db
		pinger = db
	} else {
		log.Warn("DB_SOURCE not set, ledger and pending state will not survive a restart")
	}

	sess, err := session.New(opts)
	if err != nil {
		log.WithError(err).Fatal("unable to create session")
	}
	if err := sess.Start(ctx); err != nil {
		log.WithError(err).Fatal("unable to start session")
	}
	defer sess.Close()

	r := mux.NewRouter()
	api.NewHandler(sess, pinger, cfg.CORSAllowedOrigins, log).Routes(r)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env, "user": cfg.SessionUser}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
