package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"warden/internal/agent"
	"warden/internal/config"
	"warden/internal/version"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "warden",
	Short:        "Game server supervision daemon",
	SilenceUsage: true,
	RunE:         runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warden %s (%s)\n", version.Version, version.Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to config file (toml, yaml or json; empty uses defaults plus env)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// .env first so config env overrides can come from it.
	config.LoadDotEnvDefault()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: a.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("version", version.Version).Msg("warden listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	var srvErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining")
	case srvErr = <-errCh:
		log.Error().Err(srvErr).Msg("http server failed")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := a.Close(shutCtx); err != nil {
		log.Warn().Err(err).Msg("agent close")
	}
	log.Info().Msg("bye")
	return srvErr
}

func setupLogging(lc config.LogConfig) {
	if lvl, err := zerolog.ParseLevel(lc.Level); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if lc.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// shutdownTimeout leaves room for a full stop grace plus SIGKILL escalation.
func shutdownTimeout(cfg config.Config) time.Duration {
	grace := 30 * time.Second
	if d, err := time.ParseDuration(cfg.Game.StopGrace); err == nil && d > 0 {
		grace = d
	}
	return grace + 10*time.Second
}
