// Package main is the entry point for jatd, the JAT orchestrator daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jpatrickfarrell/jat-sub014/internal/api"
	"github.com/jpatrickfarrell/jat-sub014/internal/capture"
	"github.com/jpatrickfarrell/jat-sub014/internal/classifier"
	"github.com/jpatrickfarrell/jat-sub014/internal/config"
	"github.com/jpatrickfarrell/jat-sub014/internal/identity"
	"github.com/jpatrickfarrell/jat-sub014/internal/logging"
	"github.com/jpatrickfarrell/jat-sub014/internal/mailbus"
	"github.com/jpatrickfarrell/jat-sub014/internal/orchestrator"
	"github.com/jpatrickfarrell/jat-sub014/internal/question"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/presets"
	"github.com/jpatrickfarrell/jat-sub014/internal/rules/store"
	"github.com/jpatrickfarrell/jat-sub014/internal/signalintake"
	"github.com/jpatrickfarrell/jat-sub014/internal/taskstore"
	"github.com/jpatrickfarrell/jat-sub014/internal/telemetry"
	"github.com/jpatrickfarrell/jat-sub014/internal/terminalbus"
)

// Exit codes per spec §6.6: 0 clean shutdown, 64 configuration error, 70
// internal/startup failure.
const (
	exitOK          = 0
	exitConfigError = 64
	exitInternal    = 70
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitConfigError)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Sync()

	log.Info("starting jatd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel := telemetry.New(log)

	bus := terminalbus.New(log, "")

	capEng := capture.New(bus, log, capture.Config{
		FocusedCadence:    time.Duration(cfg.Capture.FocusedCadenceMS) * time.Millisecond,
		BackgroundCadence: time.Duration(cfg.Capture.BackgroundCadenceMS) * time.Millisecond,
		WindowLines:       cfg.Capture.WindowLines,
		RingLines:         cfg.Capture.RingLines,
		Cols:              80,
		Rows:              40,
	})

	classif := classifier.New(classifier.DefaultConfig())

	projects, err := config.NewProjectResolver(cfg)
	if err != nil {
		log.Error("failed to load project resolver", zap.Error(err))
		os.Exit(exitConfigError)
	}

	reviewPolicy, err := config.LoadReviewPolicy()
	if err != nil {
		log.Error("failed to load review policy", zap.Error(err))
		os.Exit(exitConfigError)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Error("failed to resolve home directory", zap.Error(err))
		os.Exit(exitConfigError)
	}
	intakeBase := fmt.Sprintf("%s/.config/jat/signals", home)
	intake, err := signalintake.New(signalintake.DefaultConfig(intakeBase), log)
	if err != nil {
		log.Error("failed to start signal intake", zap.Error(err))
		os.Exit(exitInternal)
	}
	if err := intake.Start(ctx); err != nil {
		log.Error("failed to start signal intake watcher", zap.Error(err))
		os.Exit(exitInternal)
	}
	defer intake.Stop()

	idWatcher, err := identity.New(log)
	if err != nil {
		log.Error("failed to start identity watcher", zap.Error(err))
		os.Exit(exitInternal)
	}
	idWatcher.Start(ctx)
	defer idWatcher.Stop()

	questions := question.New(question.Config{}, bus, log)

	taskStoreClient := taskstore.New(taskstore.Config{BinaryPath: cfg.TaskStore.BinaryPath}, log)

	mailbusClient := mailbus.New(mailbus.Config{BaseURL: cfg.MailBus.BaseURL}, log)

	ruleStore, err := store.Open(cfg.Rules.DBPath)
	if err != nil {
		log.Error("failed to open rule store", zap.Error(err))
		os.Exit(exitInternal)
	}
	defer ruleStore.Close()
	if err := seedPresets(ctx, ruleStore, cfg.Rules.PresetsDir, log); err != nil {
		log.Warn("failed to seed rule presets", zap.Error(err))
	}

	sup := orchestrator.New(orchestrator.Deps{
		Bus: bus, CaptureEng: capEng, Classifier: classif, Questions: questions,
		Identity: idWatcher, Tasks: taskStoreClient, Projects: projects,
		MailBus: mailbusClient, Telemetry: tel,
	}, orchestrator.Config{
		MaxSessions:          cfg.Session.MaxSessions,
		AgentStagger:         time.Duration(cfg.Session.AgentStaggerSeconds) * time.Second,
		ClaudeStartupTimeout: time.Duration(cfg.Session.ClaudeStartupTimeoutS) * time.Second,
		ServerSessionPrefix:  "server-",
		SessionNamePrefix:    cfg.Session.TmuxPrefix,
		ReviewPolicy:         reviewPolicy,
	}, log)

	ruleEngine := rules.New(rules.Deps{
		Bus: bus, Store: ruleStore, Sessions: sup, Signals: intake,
		Questions: questions, Notifier: sup, Deaths: sup, Telemetry: tel,
	}, log)

	hub := api.NewHub()

	// Wire the subscriber graph: every capture delta feeds both the
	// Classifier/Question path (via the Orchestrator) and the Rule Engine;
	// every Signal Intake delivery feeds the Orchestrator's state machine;
	// state and question lifecycle events feed the SSE hub.
	capEng.Subscribe(sup)
	capEng.Subscribe(ruleEngine)
	intake.Subscribe(sup)
	sup.Subscribe(hub)
	questions.Subscribe(hub)

	sup.Start(ctx)
	defer sup.Stop()

	router := api.NewRouter(sup, ruleStore, hub, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
			os.Exit(exitInternal)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down jatd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
		os.Exit(exitInternal)
	}

	log.Info("jatd stopped")
	os.Exit(exitOK)
}

// seedPresets loads the shipped rule bundles into the store on first run,
// when the store is empty (spec §3 GLOSSARY "Preset"). An existing store is
// left untouched: presets seed an empty install, they don't overwrite
// user edits on every restart.
func seedPresets(ctx context.Context, s *store.SQLiteStore, dir string, log *logging.Logger) error {
	existing, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	bundles, err := presets.Discover(dir)
	if err != nil {
		return err
	}
	for _, bundle := range bundles {
		for _, rule := range bundle.Rules {
			if err := s.Upsert(ctx, rule); err != nil {
				log.Warn("failed to seed preset rule", zap.String("rule_id", rule.ID), zap.Error(err))
			}
		}
	}
	return nil
}
