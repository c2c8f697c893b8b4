package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/freeeve/weakscan/internal/httpapi"
)

// newServeCmd serves the status endpoints over the persisted cache without
// running an analysis.
func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /health, /status and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.readFile(); err != nil {
				return err
			}
			log := a.logger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := openStore(a.v.GetString("cache.dir"), a.v.GetBool("cache.in_memory"), log)
			if err != nil {
				return err
			}
			defer store.Close()

			srv, err := startStatusServer(addr, httpapi.Sources{Store: store.Stats}, log)
			if err != nil {
				return err
			}
			<-ctx.Done()
			log.Info().Msg("shutting down")
			shutdown(srv, log)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8007", "listen address")
	return cmd
}
