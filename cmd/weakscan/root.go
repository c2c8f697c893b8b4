package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/freeeve/weakscan/internal/config"
	"github.com/freeeve/weakscan/internal/logx"
)

// app carries state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:           "weakscan",
		Short:         "Find recurring weaknesses in a player's chess games",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml, toml or json)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.Bool("log-json", false, "log JSON lines instead of console output")
	pf.String("cache-dir", ".weakscan/cache", "evaluation cache directory")
	pf.Bool("cache-in-memory", false, "keep the evaluation cache in memory only")
	a.bind(root, map[string]string{
		"log-level":       "log.level",
		"log-json":        "log.json",
		"cache-dir":       "cache.dir",
		"cache-in-memory": "cache.in_memory",
	})

	root.AddCommand(newAnalyzeCmd(a), newCacheCmd(a), newServeCmd(a))
	return root
}

// bind ties flags to viper keys so that a set flag beats env and file.
func (a *app) bind(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			f = cmd.PersistentFlags().Lookup(flag)
		}
		if err := a.v.BindPFlag(key, f); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// readFile loads the config file for commands that do not need a full
// validated run configuration.
func (a *app) readFile() error {
	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %v", config.ErrBadConfig, a.cfgFile, err)
	}
	return nil
}

func (a *app) logger() zerolog.Logger {
	return logx.NewLogger(logx.Options{Level: a.v.GetString("log.level"), JSON: a.v.GetBool("log.json")})
}
