package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/mkovacs/mailroom/internal/api"
	"github.com/mkovacs/mailroom/internal/config"
	"github.com/mkovacs/mailroom/internal/crypto"
	"github.com/mkovacs/mailroom/internal/db"
	"github.com/mkovacs/mailroom/internal/imap"
	"github.com/mkovacs/mailroom/internal/spam"
	syncer "github.com/mkovacs/mailroom/internal/sync"
	"github.com/mkovacs/mailroom/internal/threads"
	ws "github.com/mkovacs/mailroom/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Environment == "development" {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return err
	}

	registry := imap.NewRegistry(syncer.NewCredentials(pool, encryptor), logger)
	defer registry.Close()
	sessions := syncer.RegistrySessions{Registry: registry}

	store := db.NewMessageStore(pool, encryptor, nil, logger)
	store.SetFetcher(syncer.NewFetcher(sessions))

	hub := ws.NewHub(0, logger)
	notifier := ws.ProgressNotifier{Hub: hub}

	reconstructor := threads.NewReconstructor(store, logger)
	lists := db.NewSpamLists(pool)
	dnsbl := spam.NewDNSBLChecker(nil, cfg.DomainBLZone, cfg.URIBLZone, logger)
	scorer := spam.NewScorer(lists, dnsbl, logger)

	syncStore := syncer.NewStore(pool, store)
	orchestrator := syncer.NewOrchestrator(syncStore, sessions, reconstructor, scorer, notifier, cfg.SpamThreshold, logger)
	hydrator := syncer.NewHydrator(syncStore, sessions, cfg.HydrateBatchSize, time.Minute, logger)
	watcher := syncer.NewWatcher(registry, orchestrator, logger)

	var background gosync.WaitGroup
	if err := startBackgroundWorkers(ctx, pool, hydrator, watcher, &background); err != nil {
		return err
	}

	mux := buildMux(cfg, pool, encryptor, store, lists, orchestrator, reconstructor, hub, logger)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "env", cfg.Environment)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("server shutdown failed", "error", err)
	}

	background.Wait()
	return nil
}

// startBackgroundWorkers launches the body hydrator and the idle watcher for
// every account known at startup. Accounts registered later are picked up on
// the next restart; on-demand sync works for them immediately.
func startBackgroundWorkers(ctx context.Context, pool *pgxpool.Pool, hydrator *syncer.Hydrator, watcher *syncer.Watcher, wg *gosync.WaitGroup) error {
	accounts, err := db.ListAccounts(ctx, pool)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		accountID := account.ID
		wg.Add(2)
		go func() {
			defer wg.Done()
			hydrator.Run(ctx, accountID)
		}()
		go func() {
			defer wg.Done()
			watcher.Run(ctx, accountID)
		}()
	}

	return nil
}

func buildMux(cfg *config.Config, pool *pgxpool.Pool, encryptor *crypto.Encryptor, store *db.MessageStore, lists *db.SpamLists, orchestrator *syncer.Orchestrator, reconstructor *threads.Reconstructor, hub *ws.Hub, logger *slog.Logger) *http.ServeMux {
	accounts := api.NewAccountsHandler(pool, encryptor, logger)
	syncH := api.NewSyncHandler(orchestrator, logger)
	threadsH := api.NewThreadsHandler(reconstructor, logger)
	messages := api.NewMessagesHandler(pool, store, db.GetOptions{HydrateRemote: true, Timeout: cfg.HydrateTimeout}, logger)
	spamH := api.NewSpamHandler(pool, lists, logger)
	wsH := api.NewWebSocketHandler(hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /api/v1/accounts", accounts.SaveAccount)
	mux.HandleFunc("GET /api/v1/accounts", accounts.ListAccounts)
	mux.HandleFunc("GET /api/v1/accounts/{id}", accounts.GetAccount)

	mux.HandleFunc("POST /api/v1/accounts/{id}/sync", syncH.SyncAccount)
	mux.HandleFunc("POST /api/v1/accounts/{id}/sync/inbox", syncH.SyncInbox)
	mux.HandleFunc("POST /api/v1/accounts/{id}/sync/folder", syncH.SyncFolder)
	mux.HandleFunc("POST /api/v1/accounts/{id}/resync", syncH.ClearAndResync)
	mux.HandleFunc("DELETE /api/v1/accounts/{id}/sync", syncH.CancelSync)
	mux.HandleFunc("POST /api/v1/accounts/{id}/threads/recalculate", threadsH.Recalculate)

	mux.HandleFunc("GET /api/v1/accounts/{id}/folders", messages.ListFolders)
	mux.HandleFunc("GET /api/v1/folders/{folderID}/messages", messages.ListMessages)
	mux.HandleFunc("GET /api/v1/messages/{messageID}", messages.GetMessage)

	mux.HandleFunc("POST /api/v1/spam/blacklist", spamH.AddBlacklistEntry)
	mux.HandleFunc("POST /api/v1/spam/block", spamH.BlockSender)

	mux.HandleFunc("GET /api/v1/accounts/{id}/ws", wsH.Serve)

	return mux
}
