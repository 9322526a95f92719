package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cluvrp/internal/buildinfo"
	"cluvrp/internal/config"
	"cluvrp/internal/store"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	storeKind  string
	dir        string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "cluvrp",
		Short:         "Variable neighborhood search for the Clustered Vehicle Routing Problem",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	pf.StringVar(&g.storeKind, "store", "file", "Ledger and solution store (memory, file, postgres)")
	pf.StringVar(&g.dir, "dir", "", "Directory of the file store (default from config)")

	root.AddCommand(newSolveCmd(g), newLedgerCmd(g), newVersionCmd())
	return root
}

// load resolves the configuration: defaults, the config file, environment,
// then flags that were set explicitly.
func (g *globals) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if cmd.Flags().Changed("store") || cfg.Store.Kind == "" {
		cfg.Store.Kind = g.storeKind
	}
	if g.dir != "" {
		cfg.Store.Dir = g.dir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(cmd.ErrOrStderr())
	return cfg, nil
}

func (g *globals) openStore(cmd *cobra.Command) (config.Config, store.Store, func(), error) {
	cfg, err := g.load(cmd)
	if err != nil {
		return cfg, nil, nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return cfg, nil, nil, err
	}
	closeFn := func() {
		if c, ok := st.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return cfg, st, closeFn, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := buildinfo.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "cluvrp %s", info["version"])
			if c := info["commit"]; c != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", c)
			}
			if b := info["builtAt"]; b != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " built %s", b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), " %s\n", info["go"])
		},
	}
}
