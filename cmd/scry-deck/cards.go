package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-deck/internal/domain"
)

// openSession puts a session into review: the historical session id when
// given, otherwise the persisted draft session once it has completed.
func openSession(ctx context.Context, a *app, historicalID string) error {
	if historicalID != "" {
		return a.generation.LoadSession(ctx, historicalID)
	}

	if !a.sessions.RecoverOnStart(ctx) {
		return errNoActiveSession
	}
	status, err := a.sessions.RefreshRecovered(ctx)
	if err != nil {
		return err
	}
	switch status {
	case domain.SessionCompleted:
		return nil
	case "", domain.SessionCancelled:
		return errNoActiveSession
	default:
		return fmt.Errorf("session is %s, cards can be changed once it has completed", status)
	}
}

func parseIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid card index %q", arg)
	}
	return index, nil
}

func newCardsCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "cards",
		Short: "List and change the cards of a session",
		Long:  "Works on the persisted draft session, or on a session from history with --session.",
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "", "historical session id")

	// withSession wires the app and opens the session before fn runs.
	withSession := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := openSession(ctx, a, sessionID); err != nil {
				return err
			}
			return fn(cmd, a, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cards",
		Args:  cobra.NoArgs,
		RunE: withSession(func(cmd *cobra.Command, a *app, args []string) error {
			printCards(cmd.OutOrStdout(), a.state.Snapshot().Review.Cards)
			return nil
		}),
	})

	var sets []string
	edit := &cobra.Command{
		Use:   "edit INDEX",
		Short: "Change card fields",
		Example: `  scry-deck cards edit 3 --set Front="What is a monad?" --set Back="A monoid in the category of endofunctors"
  scry-deck cards edit 0 --set Text="{{c1::Paris}} is the capital of France" --session 5f1c`,
		Args: cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				return fmt.Errorf("nothing to change, pass --set FIELD=VALUE")
			}
			if err := a.review.StartEdit(index); err != nil {
				return err
			}
			for _, kv := range sets {
				field, value, ok := strings.Cut(kv, "=")
				if !ok || field == "" {
					return fmt.Errorf("invalid --set %q, expected FIELD=VALUE", kv)
				}
				a.review.HandleFieldChange(field, value)
			}
			if err := a.review.SaveEdit(cmd.Context(), index); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "card %d saved\n", index)
			return nil
		}),
	}
	edit.Flags().StringArrayVar(&sets, "set", nil, "field assignment FIELD=VALUE, repeatable")
	cmd.AddCommand(edit)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete INDEX",
		Short: "Delete a card",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			if err := a.review.ConfirmDelete(index); err != nil {
				return err
			}
			if err := a.review.HandleDelete(cmd.Context(), index); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "card %d deleted\n", index)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unlink INDEX",
		Short: "Delete a card's note from Anki and keep the card",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			cards := a.state.Snapshot().Review.Cards
			if index >= len(cards) {
				return domain.ErrInvalidCardIndex
			}
			if cards[index].AnkiNoteID == nil {
				return fmt.Errorf("card %d is not linked to an Anki note", index)
			}
			noteID := *cards[index].AnkiNoteID
			if err := a.review.HandleAnkiDelete(cmd.Context(), noteID, index); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "anki note %d deleted, card %d kept\n", noteID, index)
			return nil
		}),
	})

	return cmd
}

func newSyncCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push a session's cards to Anki",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := openSession(ctx, a, sessionID); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printer := newTrackerPrinter(out, syncTracker)
			unsubscribe := a.state.Subscribe(printer.observe)
			defer unsubscribe()

			if err := a.review.HandleSync(ctx); err != nil {
				return err
			}

			snap := a.state.Snapshot()
			if snap.Sync.IsError {
				return fmt.Errorf("sync failed")
			}
			committed := 0
			for _, c := range snap.Review.Cards {
				if c.IsCommitted() {
					committed++
				}
			}
			fmt.Fprintf(out, "synced, %d of %d cards in Anki\n", committed, len(snap.Review.Cards))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "historical session id")
	return cmd
}
