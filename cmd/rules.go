package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	tomlrepo "github.com/bnema/clawstat/internal/adapters/repo/toml"
	"github.com/bnema/clawstat/internal/domain"
	"github.com/spf13/cobra"
)

func newRulesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect provider cooldown rules",
	}
	cmd.PersistentFlags().String("rules", "", "Provider cooldown rules file (default ~/.config/clawstat/rules.toml)")

	cmd.AddCommand(newRulesListCmd(app), newRulesInitCmd(app))
	return cmd
}

func newRulesListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the effective provider rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rules, err := app.providerRules(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tWINDOW\tGENERIC\tPATTERNS")
			for _, rule := range rules {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", rule.Provider, rule.ResetWindow, rule.CatchGeneric, strings.Join(rule.Patterns, ", "))
			}
			return tw.Flush()
		},
	}
}

func newRulesInitCmd(app *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in provider rules to the rules file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := tomlrepo.NewRuleRepository(app.cfg)
			if err != nil {
				return fmt.Errorf("wire rules repository: %w", err)
			}

			if _, err := os.Stat(repo.Path()); err == nil && !force {
				return fmt.Errorf("%w: rules file %s already exists (use --force to overwrite)", domain.ErrConfiguration, repo.Path())
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat rules file: %w", err)
			}

			if err := repo.Save(cmd.Context(), domain.DefaultProviderRules()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote → %s\n", repo.Path())
			return err
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing rules file")

	return cmd
}
