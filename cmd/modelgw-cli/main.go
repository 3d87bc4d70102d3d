// Command modelgw-cli is the command line tool for managing the model
// gateway: validating config files and inspecting a configured fleet.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	modelgateway "github.com/corvid-labs/model-gateway"
	"github.com/corvid-labs/model-gateway/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "modelgw-cli",
		Short:         "Model gateway command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(validateCmd(), providersCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a gateway configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modelgateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("OK: %d provider(s), load_balancing=%s\n", len(cfg.Providers), cfg.LoadBalancing)
			return nil
		},
	}
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers <config-file>",
		Short: "List configured providers and their models",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := modelgateway.LoadConfig(args[0])
			if err != nil {
				return err
			}
			ps := cfg.Providers
			sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
			for _, p := range ps {
				cmd.Printf("%s (%d model(s))\n", p.ID, len(p.Models))
				for _, m := range p.Models {
					cmd.Printf("  %s  tier=%s  $%g/token  caps=%v\n", m.Model, m.Tier, m.CostPerToken, m.Capabilities)
				}
			}
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.String())
		},
	}
}
