package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	tele "gopkg.in/telebot.v4"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/notify"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	boot := logx.NewConsole("info")

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLog()
	mgr.SetLogger(log.With(logx.String("component", "config")))
	boot.Info("logging initialized", logx.String("level", cfg.Logging.Level))

	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	settings, err := cfg.Reminder.Resolve()
	if err != nil {
		return err
	}

	senders := notify.NewRegistry(settings.RatePerSec, log.With(logx.String("component", "notify")))
	senders.Register("telegram", notify.NewTelegram(tb))
	if cfg.WhatsApp.Enabled {
		senders.Register("whatsapp", notify.NewWhatsApp(cfg.WhatsApp.AccessToken, cfg.WhatsApp.PhoneNumberID))
	}

	engine := reminder.New(reminder.Config{
		Workers:         settings.Workers,
		QueueSize:       settings.QueueSize,
		DispatchTimeout: settings.DispatchTimeout,
		CleanupInterval: settings.CleanupInterval,
		Retention:       settings.Retention,
	}, store, senders, log.With(logx.String("component", "reminder")))

	engine.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		engine.Stop(stopCtx)
	}()

	// Rebuild triggers before anything is considered live again.
	if err := engine.ReloadFromStore(ctx); err != nil {
		return fmt.Errorf("reload reminders: %w", err)
	}

	router := bot.NewRouter(tb, engine, store, log.With(logx.String("component", "bot")))
	router.Attach()
	go tb.Start()
	defer tb.Stop()

	// Live config: outbound rate follows the file.
	go func() {
		sub := mgr.Subscribe(1)
		defer mgr.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case next := <-sub:
				if next == nil {
					continue
				}
				if s, err := next.Reminder.Resolve(); err == nil {
					senders.SetRate(s.RatePerSec)
				}
			}
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	notifyReady(ctx, log)

	log.Info("remindbot running", logx.String("config", cfgPath))
	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
	return nil
}

// notifyReady tells systemd we are up and keeps the watchdog fed when one
// is configured. No-ops outside systemd.
func notifyReady(ctx context.Context, log logx.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("sd_notify: ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
