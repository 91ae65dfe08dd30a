package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/xdcstore/internal/catalog"
	"github.com/user/xdcstore/internal/engine"
	"github.com/user/xdcstore/internal/gateway"
	"github.com/user/xdcstore/internal/state"
	"github.com/user/xdcstore/internal/transport"
	"github.com/user/xdcstore/internal/transport/deltachat"
)

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the store bot",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	cat, err := catalog.Load(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	sessions := state.NewSessionStore(cfg.DataDir)

	adapter := deltachat.New(deltachat.Options{
		AccountsDir: cfg.Transport.AccountsDir,
		RpcBin:      cfg.Transport.RpcBin,
		Addr:        cfg.Transport.Addr,
		MailPw:      cfg.Transport.MailPw,
	})

	eng := engine.New(cat, sessions, adapter, version)

	gw := gateway.New(int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(func(run *gateway.Run) error {
		return eng.HandleEvent(run.Ctx, run.Event)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw.Start(ctx)
	defer gw.Stop()

	adapter.OnEvent(func(ctx context.Context, event *transport.Event) {
		if err := gw.HandleInbound(ctx, event); err != nil {
			slog.Error("enqueue inbound event", "chat_id", int64(event.ChatID), "error", err)
		}
	})

	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer adapter.Stop()

	go func() {
		if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("transport stopped", "error", err)
		}
	}()

	apps, _ := cat.Snapshot()
	slog.Info("xdcstore started",
		"data_dir", cfg.DataDir,
		"apps", len(apps),
		"frontend_version", cat.FrontendVersion(),
		"max_concurrent", cfg.MaxConcurrent,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	return nil
}
