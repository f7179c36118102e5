package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/resilience"
)

var (
	commitProject string
	commitCycle   int
	commitMode    string
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the requirements packet for an interview",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(cmd.Context()); err != nil {
			return err
		}

		result, err := e.Engine.Commit(cmd.Context(), commitProject, commitCycle, commitMode)
		if err != nil {
			var le *resilience.LayeredError
			if errors.As(err, &le) && le.Layer == resilience.LayerValidation {
				fmt.Fprintf(os.Stderr, "commit blocked: %s\n", le.Message)
				for _, reason := range le.Reasons {
					fmt.Fprintf(os.Stderr, "  - %s\n", reason)
				}
				os.Exit(2)
			}
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	commitCmd.Flags().StringVar(&commitProject, "project", "", "Project ID (required)")
	commitCmd.Flags().IntVar(&commitCycle, "cycle", 1, "Interview cycle number")
	commitCmd.Flags().StringVar(&commitMode, "mode", "fast", "Commit mode: fast or strengthen")
	_ = commitCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(commitCmd)
}
