package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-deck/internal/document"
	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/generation"
)

var errGenerationFailed = errors.New("generation failed")

type generateFlags struct {
	cards  int
	source string
	model  string
	deck   string
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "generate FILE",
		Short: "Generate cards from a document and follow the run",
		Long:  "Uploads FILE, streams the generation log, and prints the cards once the run completes. Interrupting stops following the run; the session stays recoverable.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, *configPath, args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.cards, "cards", "n", 0, "number of cards to generate (default: the service's suggestion)")
	cmd.Flags().StringVarP(&flags.source, "source", "s", "", "source type: slides or script (default: from the file type)")
	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "generation model (default: generation.default_model)")
	cmd.Flags().StringVarP(&flags.deck, "deck", "d", "", "target Anki deck name")
	return cmd
}

func runGenerate(cmd *cobra.Command, configPath, path string, flags generateFlags) error {
	doc, info, err := document.Read(path)
	if err != nil {
		return err
	}
	sourceType, err := resolveSourceType(cmd, flags.source, info)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if err := a.generation.Configure(); err != nil {
		return err
	}

	target := flags.cards
	if target == 0 {
		est, err := a.generation.Estimate(ctx, generation.EstimateRequest{
			Document:   doc,
			SourceType: sourceType,
			Model:      flags.model,
		})
		if err != nil {
			return err
		}
		target = max(est.SuggestedCards, 1)
		fmt.Fprintf(out, "generating %d cards (suggested for %d pages)\n", target, est.PageCount)
	}

	printer := newTrackerPrinter(out, workflowTracker)
	unsubscribe := a.state.Subscribe(printer.observe)
	defer unsubscribe()

	err = a.generation.HandleGenerate(ctx, generation.Request{
		Document:    doc,
		TargetCards: target,
		SourceType:  sourceType,
		Model:       flags.model,
		DeckName:    flags.deck,
	})
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "stopped following the run, use 'scry-deck recover' to resume")
		return nil
	}
	if err != nil {
		return err
	}

	snap := a.state.Snapshot()
	printWorkflow(out, snap)
	if snap.Workflow.IsError {
		return errGenerationFailed
	}
	return nil
}

// resolveSourceType uses the --source flag when given and otherwise derives
// the source type from the document.
func resolveSourceType(cmd *cobra.Command, flag string, info document.Info) (domain.SourceType, error) {
	if cmd.Flags().Changed("source") {
		return domain.ParseSourceType(flag)
	}
	return info.SourceType(), nil
}

func newEstimateCmd(configPath *string) *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "estimate FILE",
		Short: "Estimate token usage and cost for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEstimate(cmd, *configPath, args[0], flags)
		},
	}

	cmd.Flags().IntVarP(&flags.cards, "cards", "n", 0, "target card count (default: the service's suggestion)")
	cmd.Flags().StringVarP(&flags.source, "source", "s", "", "source type: slides or script (default: from the file type)")
	cmd.Flags().StringVarP(&flags.model, "model", "m", "", "generation model (default: generation.default_model)")
	return cmd
}

func runEstimate(cmd *cobra.Command, configPath, path string, flags generateFlags) error {
	doc, info, err := document.Read(path)
	if err != nil {
		return err
	}
	sourceType, err := resolveSourceType(cmd, flags.source, info)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	est, err := a.generation.Estimate(ctx, generation.EstimateRequest{
		Document:   doc,
		SourceType: sourceType,
		Model:      flags.model,
	})
	if err != nil {
		return err
	}

	target := flags.cards
	if target == 0 {
		target = max(est.SuggestedCards, 1)
	}
	cost, err := a.generation.Recompute(target)
	if err != nil {
		return err
	}
	density := domain.ComputeDensitySummary(domain.CardDensity(target, est.PageCount), sourceType)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "file:      %s, %s\n", info.Kind, sourceType)
	fmt.Fprintf(out, "document:  %d pages, %d images, %d tokens\n", est.PageCount, est.ImageCount, est.TokenCount)
	fmt.Fprintf(out, "model:     %s (pricing tier %s)\n", est.ModelID, cost.Tier)
	fmt.Fprintf(out, "cards:     %d (suggested %d)\n", target, est.SuggestedCards)
	fmt.Fprintf(out, "density:   %.2f cards/page, %sx baseline (%s)\n", density.Density, density.Ratio, density.Label)
	fmt.Fprintf(out, "tokens:    %d in, %d out\n", cost.InputTokens, cost.OutputTokens)
	fmt.Fprintf(out, "cost:      $%.4f\n", cost.Cost)
	return nil
}
