package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/john/streamtap/internal/config"
	"github.com/john/streamtap/internal/kick"
	"github.com/john/streamtap/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// Get config path from environment variable or use default
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}

	root := &cobra.Command{
		Use:          "streamtap",
		Short:        "Ingest live-stream room events into an analytical store",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	root.Flags().String("config", defaultConfig, "path to the YAML config file")
	root.AddCommand(newResolveKickCmd())
	return root
}

// newResolveKickCmd looks up chatroom ids so they can be pinned in config
func newResolveKickCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resolve-kick <slug>...",
		Short:   "Resolve Kick channel slugs to chatroom ids",
		Example: "  streamtap resolve-kick paymoneywubby xqc",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := kick.NewResolver()
			out := cmd.OutOrStdout()

			failed := 0
			for _, slug := range args {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				ch, err := resolver.Resolve(ctx, slug)
				cancel()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", slug, err)
					failed++
					continue
				}

				snippet, err := yaml.Marshal(map[string]config.KickConfig{
					"kick": {Channel: ch.Slug, ChatroomID: ch.ChatroomID},
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "# %s\n%s\n", slug, snippet)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d channel(s) failed to resolve", failed, len(args))
			}
			return nil
		},
	}
}
