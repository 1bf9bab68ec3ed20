package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/klyr/edgerewrite/internal/rules"
)

func newRulesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the compiled rules in application order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, nil)
			if err != nil {
				return err
			}
			registry, err := rules.Build(cfg)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACTION\tSELECTOR\tDETAIL")
			for _, e := range registry.Entries() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Action, e.Selector, e.Summary)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	return cmd
}
