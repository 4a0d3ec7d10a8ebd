package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/root-talis/shinka"
	"github.com/root-talis/shinka/internal/bootstrap"
	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/state"
)

var ErrStatusNotRunnable = errors.New("schema is not at the final state of the plan")

func init() {
	// Upgrade
	var legacyVersion string
	var noCheckpoints bool
	var upgradeCmd = &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the schema to the final state of the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("legacy-version") {
				cfg.Upgrade.LegacyVersion = legacyVersion
			}
			if noCheckpoints {
				cfg.Upgrade.Checkpoints = false
			}

			rt, err := bootstrap.NewRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, runErr := rt.Upgrade(cmd.Context())
			if err := rt.WriteMetrics(); err != nil {
				logger.Error("failed to write metrics", "error", err)
			}
			if runErr != nil {
				return runErr
			}

			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	upgradeCmd.Flags().StringVar(&legacyVersion, "legacy-version", "", "Product version of an installation that has no recorded state")
	upgradeCmd.Flags().BoolVar(&noCheckpoints, "no-checkpoints", false, "Run the whole upgrade in a single transaction")
	rootCmd.AddCommand(upgradeCmd)

	// Status
	var strict bool
	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show where the recorded state stands relative to the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			status, err := rt.Upgrader.Status(cmd.Context())
			if err != nil {
				return err
			}

			printStatus(cmd.OutOrStdout(), status)

			if strict && status.Level != shinka.LevelRun {
				return fmt.Errorf("%w: %s", ErrStatusNotRunnable, status.Level)
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&strict, "strict", false, "Exit with an error unless the schema is up to date")
	rootCmd.AddCommand(statusCmd)

	// Plan
	var planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Validate the plan and print its transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := bootstrap.LoadPlan(cfg.Plan.Dir, migration.NewRegistry())
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}
	rootCmd.AddCommand(planCmd)

	// State
	var stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Inspect or repair the recorded state",
	}

	var stateGetCmd = &cobra.Command{
		Use:   "get",
		Short: "Print the recorded state token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			token, ok, err := rt.Store.Get(cmd.Context(), state.Key(rt.Plan.Name()))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	var setToken string
	var stateSetCmd = &cobra.Command{
		Use:   "set",
		Short: "Overwrite the recorded state token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap.NewRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			token := migration.Token(setToken)
			if !rt.Plan.Has(token) {
				return fmt.Errorf("%w: %q", shinka.ErrUnreachableState, token)
			}

			if err := rt.Store.Set(cmd.Context(), state.Key(rt.Plan.Name()), token); err != nil {
				return err
			}

			logger.Warn("state overwritten", "plan", rt.Plan.Name(), "token", token.String())
			return nil
		},
	}
	stateSetCmd.Flags().StringVar(&setToken, "token", "", "Token to record")
	_ = stateSetCmd.MarkFlagRequired("token")

	stateCmd.AddCommand(stateGetCmd, stateSetCmd)
	rootCmd.AddCommand(stateCmd)
}

func printResult(out io.Writer, result *shinka.Result) {
	if len(result.Executed) == 0 {
		fmt.Fprintf(out, "%s is up to date at %s\n", result.Plan, result.To)
		return
	}

	steps := make([]string, 0, len(result.Executed))
	for _, t := range result.Executed {
		steps = append(steps, t.String())
	}

	fmt.Fprintf(out, "%s upgraded from %s to %s in %s\n", result.Plan, result.From, result.To, result.Duration)
	fmt.Fprintf(out, "  %s\n", strings.Join(steps, "\n  "))
}

func printStatus(out io.Writer, status *shinka.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Plan\t%s\n", status.Plan)
	if status.Present {
		fmt.Fprintf(w, "Current\t%s\n", status.Current)
	} else {
		fmt.Fprintf(w, "Current\t(none)\n")
	}
	fmt.Fprintf(w, "Final\t%s\n", status.Final)
	fmt.Fprintf(w, "Level\t%s\n", status.Level)
	fmt.Fprintf(w, "Pending\t%d\n", len(status.Pending))
	w.Flush()
}

func printPlan(out io.Writer, p *plan.Plan) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "From\tStep\tTo\n")
	for _, t := range p.Transitions() {
		step := string(t.Step)
		if !t.HasStep() {
			step = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.From, step, t.To)
	}
	w.Flush()

	fmt.Fprintf(out, "final: %s\n", p.Final())
}
