package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/ancli"
	"github.com/baalimago/go_away_boilerplate/pkg/shutdown"

	"github.com/stupiduntilnot/glmrelay/internal/admin"
	cmdpkg "github.com/stupiduntilnot/glmrelay/internal/commander"
	"github.com/stupiduntilnot/glmrelay/internal/config"
	"github.com/stupiduntilnot/glmrelay/internal/control"
	"github.com/stupiduntilnot/glmrelay/internal/db"
	"github.com/stupiduntilnot/glmrelay/internal/dummy"
	"github.com/stupiduntilnot/glmrelay/internal/glm"
	"github.com/stupiduntilnot/glmrelay/internal/memory"
	"github.com/stupiduntilnot/glmrelay/internal/model"
	"github.com/stupiduntilnot/glmrelay/internal/relay"
	"github.com/stupiduntilnot/glmrelay/internal/telegram"
)

func main() {
	ancli.SetupSlog()

	cfg, err := config.Load()
	if err != nil {
		ancli.Errf("[relay] %v", err)
		os.Exit(1)
	}

	ledger, closeLedger, err := openLedger(cfg.DBPath)
	if err != nil {
		ancli.Errf("[relay] %v", err)
		os.Exit(1)
	}
	defer closeLedger()

	var rootEventID *int64
	if id, err := ledger.Log(nil, 0, db.EventProcessStarted, map[string]any{
		"pid":          os.Getpid(),
		"provider":     cfg.ModelProvider,
		"source":       cfg.Commander,
		"model":        cfg.GLMModel,
		"memory_limit": cfg.MemoryLimit,
	}); err != nil {
		slog.Warn("failed to log process.started", "err", err)
	} else if id != 0 {
		rootEventID = &id
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		ancli.Errf("[relay] failed to init commander: %v", err)
		os.Exit(1)
	}
	provider, err := newModelProvider(&cfg)
	if err != nil {
		ancli.Errf("[relay] failed to init model provider: %v", err)
		os.Exit(1)
	}

	store := memory.NewStore(cfg.MemoryLimit)
	r := relay.New(provider, store, relay.Config{
		ChunkLimit:    cfg.ChunkLimit,
		Ledger:        ledger,
		ParentEventID: rootEventID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { shutdown.Monitor(cancel) }()

	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: admin.NewRouter(admin.NewHandler(store, r, provider.Model()))}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server stopped", "addr", cfg.AdminAddr, "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	var offset int64
	if cfg.DropPending {
		offset, err = bootstrapOffset(commander, cfg.PendingWindowSeconds, cfg.PendingMaxMessages)
		if err != nil {
			slog.Warn("bootstrap offset error", "err", err)
		}
	}

	ancli.Okf("relay running model=%s provider=%s source=%s memory_limit=%d\n",
		provider.Model(), cfg.ModelProvider, cfg.Commander, cfg.MemoryLimit)

	if cfg.Debug {
		ancli.Noticef("debug: db=%q admin=%q chunk_limit=%d signed_token=%v\n",
			cfg.DBPath, cfg.AdminAddr, cfg.ChunkLimit, cfg.GLMSignedToken)
	}

	guard := control.NewPollGuard(5, 30*time.Second, time.Duration(cfg.SleepSeconds)*time.Second)
	pollLoop(ctx, commander, r, guard, cfg.Timeout, offset)

	ancli.Okf("relay stopped\n")
}

// pollLoop fetches updates until ctx is done and dispatches each message on
// its own goroutine. In-flight dispatches are abandoned on shutdown.
func pollLoop(ctx context.Context, commander cmdpkg.Commander, r *relay.Relay, guard *control.PollGuard, timeout int, offset int64) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !guard.Allow(time.Now()) {
			sleep(ctx, guard.Idle)
			continue
		}

		updates, err := commander.GetUpdates(offset, timeout)
		if err != nil {
			slog.Warn("getUpdates error", "err", err)
			sleep(ctx, guard.Failed(err, time.Now()))
			continue
		}
		guard.Succeeded()

		for _, update := range updates {
			offset = update.UpdateID + 1
			go r.Dispatch(ctx, commander, update)
		}
		if len(updates) == 0 && timeout == 0 {
			sleep(ctx, guard.Idle)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// bootstrapOffset skips a stale backlog: updates older than the pending
// window are dropped, and at most pendingMaxMessages recent ones are kept.
func bootstrapOffset(commander cmdpkg.Commander, pendingWindowSeconds int64, pendingMaxMessages int) (int64, error) {
	updates, err := commander.GetUpdates(0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}

	now := time.Now().Unix()
	cutoff := now - pendingWindowSeconds

	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}

	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}

	if len(inWindow) > pendingMaxMessages {
		inWindow = inWindow[len(inWindow)-pendingMaxMessages:]
	}

	return inWindow[0].UpdateID, nil
}

func openLedger(path string) (*db.Ledger, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return &db.Ledger{DB: database}, func() { database.Close() }, nil
}

func newCommander(cfg *config.RelayConfig) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.TelegramAPIBase, time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(cfg *config.RelayConfig) (model.Completer, error) {
	switch cfg.ModelProvider {
	case "glm":
		return glm.NewClient(cfg.GLMAPIKey, glm.Options{
			URL:         cfg.GLMAPIURL,
			Model:       cfg.GLMModel,
			Temperature: cfg.GLMTemperature,
			MaxTokens:   cfg.GLMMaxTokens,
			Timeout:     cfg.GLMTimeout,
			Signed:      cfg.GLMSignedToken,
		}), nil
	case "dummy":
		return dummy.NewProvider(cfg.GLMModel, cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
