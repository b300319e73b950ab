// Package main implements scry-deck, a command line client that turns slide
// decks and lecture scripts into Anki flashcards through the scry generation
// service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "scry-deck",
		Short:         "Generate, review and sync flashcard decks",
		Long:          "scry-deck uploads a document to the generation service, follows the run, and lets you review the resulting cards before pushing them to Anki.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./scry-deck.yaml or ~/.config/scry-deck/scry-deck.yaml)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newEstimateCmd(&configPath))
	cmd.AddCommand(newGenerateCmd(&configPath))
	cmd.AddCommand(newRecoverCmd(&configPath))
	cmd.AddCommand(newStatusCmd(&configPath))
	cmd.AddCommand(newCancelCmd(&configPath))
	cmd.AddCommand(newLoadCmd(&configPath))
	cmd.AddCommand(newCardsCmd(&configPath))
	cmd.AddCommand(newSyncCmd(&configPath))
	cmd.AddCommand(newResetCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scry-deck %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), newRootCmd()))
}
