package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/engine"
)

var (
	turnProject  string
	turnCycle    int
	turnText     string
	turnOption   string
	turnArtifact string
	turnRefresh  bool
)

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Advance an interview by one turn",
	Long:  "Sends one turn event (free text, a typed option, or a website reference) and prints the assistant's next prompt with readiness state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		set := 0
		for _, v := range []string{turnText, turnOption, turnArtifact} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return eris.New("exactly one of --text, --option, or --url is required")
		}

		e, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.Migrate(cmd.Context()); err != nil {
			return err
		}

		resp, err := e.Engine.Advance(cmd.Context(), engine.TurnRequest{
			ProjectID:         turnProject,
			Cycle:             turnCycle,
			Text:              turnText,
			OptionID:          turnOption,
			ArtifactReference: turnArtifact,
			ForceRefresh:      turnRefresh,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	turnCmd.Flags().StringVar(&turnProject, "project", "", "Project ID (required)")
	turnCmd.Flags().IntVar(&turnCycle, "cycle", 1, "Interview cycle number")
	turnCmd.Flags().StringVar(&turnText, "text", "", "Free-text answer")
	turnCmd.Flags().StringVar(&turnOption, "option", "", "Typed option ID (e.g. outcome:book)")
	turnCmd.Flags().StringVar(&turnArtifact, "url", "", "Website reference to ingest")
	turnCmd.Flags().BoolVar(&turnRefresh, "refresh", false, "Force re-ingestion of the website")
	_ = turnCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(turnCmd)
}
