package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/klyr/edgerewrite/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "edgerewrite",
		Short:        "Edge reverse proxy that rewrites HTML as it streams",
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// overrideFlags registers the settings that may also come from the
// environment. Flags win over EDGEREWRITE_* variables, which win over the file.
func overrideFlags(flags *pflag.FlagSet) {
	flags.String("site", "", "Override the site whose pages are rewritten")
	flags.String("listen", "", "Override the listen address")
	flags.String("log-level", "", "Override the log level")
}

func newOverrides(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("EDGEREWRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"site", "listen", "log-level"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	return v
}

// loadConfig reads the YAML file and applies overrides from v.
func loadConfig(path string, v *viper.Viper) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return cfg, nil
	}
	if site := v.GetString("site"); site != "" {
		cfg.Site = site
	}
	if listen := v.GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, newOverrides(cmd.Flags()))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "config ok (%d rules)\n", len(cfg.Rules))
			return err
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	overrideFlags(cmd.Flags())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}
