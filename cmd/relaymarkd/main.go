// Command relaymarkd runs the tool-call transcoding reverse proxy as a
// standalone net/http server.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaymark/relaymark/internal/config"
	"github.com/relaymark/relaymark/internal/logger"
	"github.com/relaymark/relaymark/internal/proxy"
)

func main() {
	var (
		port          int
		logDir        string
		allowLocalNet bool
		configPath    string
	)

	root := &cobra.Command{
		Use:   "relaymarkd",
		Short: "Reverse proxy that synthesizes tool-call semantics over any chat-completions upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, ".env")
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-dir") {
				cfg.LogDir = logDir
				cfg.LogEnabled = true
			}
			if cmd.Flags().Changed("allow-local-net") {
				cfg.AllowLocalNet = allowLocalNet
			}

			log := logger.New()
			srv := proxy.New(cfg, log)

			addr := fmt.Sprintf(":%d", cfg.Port)
			log.Info().Str("addr", addr).Msg("starting relaymarkd")
			return http.ListenAndServe(addr, srv)
		},
	}

	root.Flags().IntVar(&port, "port", 3000, "port to listen on")
	root.Flags().StringVar(&logDir, "log-dir", "./logs", "directory for per-request JSON logs")
	root.Flags().BoolVar(&allowLocalNet, "allow-local-net", false, "disable private-network upstream checks")
	root.Flags().StringVar(&configPath, "config", "relaymark.yaml", "path to an optional YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
