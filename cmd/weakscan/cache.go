package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/freeeve/weakscan/internal/eval"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and move the persisted evaluation cache",
	}
	cmd.AddCommand(newCacheExportCmd(a), newCacheImportCmd(a), newCacheStatsCmd(a))
	return cmd
}

// withStore opens the persisted cache for one command.
func (a *app) withStore(fn func(*eval.BadgerStore) error) error {
	if err := a.readFile(); err != nil {
		return err
	}
	if a.v.GetBool("cache.in_memory") {
		return usageError{errors.New("cache commands need a persistent cache dir")}
	}
	log := a.logger()
	store, err := openStore(a.v.GetString("cache.dir"), false, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func newCacheExportCmd(a *app) *cobra.Command {
	var fingerprint string
	cmd := &cobra.Command{
		Use:   "export <snapshot.csv[.zst]>",
		Short: "Write cached evaluations to a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *eval.BadgerStore) error {
				stats, err := eval.Export(s, fingerprint, args[0])
				if err != nil {
					return err
				}
				log := a.logger()
				log.Info().Int("rows", stats.Rows).Int("skipped", stats.Skipped).Str("path", args[0]).Msg("cache exported")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "only export this settings fingerprint")
	return cmd
}

func newCacheImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.csv[.zst]>...",
		Short: "Load snapshot files into the cache; existing entries win",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *eval.BadgerStore) error {
				log := a.logger()
				for _, path := range args {
					stats, err := eval.Import(s, path)
					if err != nil {
						return err
					}
					log.Info().
						Str("path", path).
						Int("rows", stats.Rows).
						Int("imported", stats.Imported).
						Int("existing", stats.Existing).
						Int("skipped", stats.Skipped).
						Msg("cache imported")
				}
				return nil
			})
		},
	}
}

func newCacheStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count cached evaluations per settings fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *eval.BadgerStore) error {
				st, err := s.Stats()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			})
		},
	}
}
