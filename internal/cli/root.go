// Package cli implements auditctl, the operator command line for imports,
// classification checks and rule maintenance.
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "auditctl"

// app carries what every subcommand shares.
type app struct {
	v       *viper.Viper
	cfgFile string
	logCfg  log.Config
	logger  log.Logger
}

// NewRootCmd builds the auditctl command tree. Each call returns an
// independent tree with its own configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: log.Nop()}

	root := &cobra.Command{
		Use:   appName,
		Short: "auditctl - operator tools for the message audit service",
		Long: `auditctl imports incident notifications, previews their classification
and maintains the rule set of the audit service.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (AUDITORIA_*)
3. Config file (--config, YAML)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	pf.String("database-url", "", "PostgreSQL connection URL (empty = in-memory, nothing is kept)")
	pf.String("catalog-file", "", "classification catalog YAML (empty = built-in catalog)")
	pf.Int("utc-offset-hours", -3, "fixed UTC offset of the operations timezone")

	// go-core logging flags
	gfs := flag.NewFlagSet("log", flag.ContinueOnError)
	a.logCfg.RegisterFlags(gfs)
	pf.AddGoFlagSet(gfs)

	// Bind flags to viper
	for _, name := range []string{"database-url", "catalog-file", "utc-offset-hours"} {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		a.importCmd(),
		a.classifyCmd(),
		a.reclassifyCmd(),
		a.rulesCmd(),
		versionCmd(),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// init reads the config file and environment and builds the logger.
func (a *app) init() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
	}

	// Read in environment variables that match AUDITORIA_*
	a.v.SetEnvPrefix("AUDITORIA")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.logCfg.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	lg, err := log.New(a.logCfg.ToOptions(appName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	a.logger = lg
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			v.AppName = appName
			v.Component = "cli"
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit=%s, build_date=%s, go=%s)\n",
				vi.AppName, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		},
	}
}
