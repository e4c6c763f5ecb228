package main

import (
	"github.com/spf13/cobra"

	"github.com/adaojoaquim/agi-core/engine"
	"github.com/adaojoaquim/agi-core/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the memory and goal API over websocket",
	Long: `Start the websocket server.

Endpoints:
  /ws      JSON messages: store, retrieve, forget, get, reflect,
           consolidate, context, run
  /health  liveness and version`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr and AGICORE_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	eng := engine.New(cfg)
	defer eng.Close()

	srv := server.New(eng, server.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	return srv.Run(cmd.Context())
}
