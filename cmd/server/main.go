package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/npezzotti/galchat/internal/api"
	"github.com/npezzotti/galchat/internal/backup"
	"github.com/npezzotti/galchat/internal/blob"
	"github.com/npezzotti/galchat/internal/config"
	"github.com/npezzotti/galchat/internal/database"
	"github.com/npezzotti/galchat/internal/hub"
	"github.com/npezzotti/galchat/internal/registry"
	"github.com/npezzotti/galchat/internal/server"
	"github.com/npezzotti/galchat/internal/stats"
	"github.com/npezzotti/galchat/internal/suggest"
)

func main() {
	logger := log.New(os.Stderr, "[galchat] ", log.LstdFlags)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("config:", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	primary, err := database.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := database.EnsureDatabase(ctx, primary, cfg.DatabaseDSN); err != nil {
		logger.Fatal("db provision:", err)
	}

	var opts []database.OpenOption
	if cfg.DeleteHistory {
		logger.Println("resetting chat history")
		opts = append(opts, database.WithReset())
	}

	dbConn, err := database.Open(ctx, primary, cfg.DatabaseDSN, opts...)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	backend, nc, err := openBlobBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("blob backend:", err)
	}
	if nc != nil {
		defer nc.Drain()
	}

	reg := registry.New(logger, dbConn)
	connHub := hub.New(logger, statsUpdater)

	chatServer, err := server.NewChatServer(logger, dbConn, reg, connHub, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	svc := api.Services{
		ChatServer: chatServer,
		DB:         dbConn,
		Registry:   reg,
		Blobs:      blob.NewStore(logger, dbConn, backend, statsUpdater),
	}
	if cfg.LLMURL != "" {
		svc.Generator = suggest.NewChatCompletionClient(logger, suggest.Config{
			BaseURL: cfg.LLMURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
			Timeout: cfg.LLMTimeout,
		})
	}

	srv := api.NewGalChatApp(mux, logger, svc, cfg)

	backupDialect, err := database.ParseDialect(cfg.BackupDriver)
	if err != nil {
		logger.Fatal("config:", err)
	}
	replicator := backup.NewReplicator(logger, dbConn, backup.Config{
		Dialect:  backupDialect,
		DSN:      cfg.BackupDSN,
		Interval: cfg.BackupInterval,
		Timeout:  cfg.BackupTimeout,
	}, statsUpdater)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	backupDone := make(chan struct{})
	go func() {
		replicator.Run(ctx)
		close(backupDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	stop()
	select {
	case <-backupDone:
	case <-shutDownCtx.Done():
		logger.Println("backup cycle did not stop in time")
	}

	logger.Println("shutdown complete")
}

// openBlobBackend returns the configured blob backend and, for JetStream,
// the NATS connection backing it.
func openBlobBackend(ctx context.Context, cfg *config.Config) (blob.Backend, *nats.Conn, error) {
	if cfg.BlobBackend != config.BlobBackendJetStream {
		backend, err := blob.NewDiskBackend(cfg.BlobDir)
		return backend, nil, err
	}

	nc, err := nats.Connect(cfg.NatsURL, nats.Name("galchat"))
	if err != nil {
		return nil, nil, err
	}

	backend, err := blob.NewJetStreamBackend(ctx, nc, cfg.NatsBucket)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return backend, nc, nil
}
