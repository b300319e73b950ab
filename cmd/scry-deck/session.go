package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/session"
	"github.com/phrazzld/scry-deck/internal/store"
)

var errNoActiveSession = errors.New("no active session, start one with 'scry-deck generate'")

func newRecoverCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resume the last generation run",
		Long:  "Looks up the persisted session, asks the service for its status, and follows its stream if it is still running.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, *configPath)
		},
	}
}

func runRecover(cmd *cobra.Command, configPath string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if !a.sessions.RecoverOnStart(ctx) {
		fmt.Fprintln(out, "no session to recover")
		return nil
	}

	printer := newTrackerPrinter(out, workflowTracker)
	unsubscribe := a.state.Subscribe(printer.observe)
	defer unsubscribe()

	status, err := a.sessions.RefreshRecovered(ctx)
	if err != nil {
		return err
	}

	switch status {
	case "", domain.SessionCancelled:
		fmt.Fprintln(out, "the last session no longer exists")
		return nil
	case domain.SessionCompleted, domain.SessionFailed:
	default:
		fmt.Fprintf(out, "session %s is %s, following it\n", a.state.Snapshot().Session.ID, status)
		if err := a.generation.Reattach(ctx); err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "stopped following the run")
				return nil
			}
			return err
		}
	}

	snap := a.state.Snapshot()
	printWorkflow(out, snap)
	if snap.Workflow.IsError {
		return errGenerationFailed
	}
	return nil
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, *configPath)
		},
	}
}

func runStatus(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, configPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	id, err := a.store.Get(ctx, session.StorageKey)
	if store.IsNotFoundError(err) || (err == nil && id == "") {
		fmt.Fprintln(out, "no active session")
		return nil
	}
	if err != nil {
		return err
	}

	var (
		info       generation.SessionInfo
		drafts     []domain.Card
		ankiStatus = "unreachable"
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		info, err = a.remote.GetSession(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		drafts, err = a.remote.GetDrafts(gctx, id)
		return err
	})
	g.Go(func() error {
		// An unreachable Anki does not fail the report.
		if v, err := a.anki.Version(gctx); err == nil {
			ankiStatus = fmt.Sprintf("AnkiConnect v%d", v)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, generation.ErrSessionNotFound) {
			fmt.Fprintf(out, "session %s is no longer known to the service\n", id)
			return nil
		}
		return err
	}

	committed := 0
	for _, c := range drafts {
		if c.IsCommitted() {
			committed++
		}
	}
	fmt.Fprintf(out, "session:  %s\n", id)
	fmt.Fprintf(out, "status:   %s\n", info.Status)
	fmt.Fprintf(out, "drafts:   %d (%d in Anki)\n", len(drafts), committed)
	fmt.Fprintf(out, "anki:     %s\n", ankiStatus)
	return nil
}

func newCancelCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the running generation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.sessions.RecoverOnStart(ctx) {
				return errNoActiveSession
			}
			id := a.state.Snapshot().Session.ID
			if err := a.generation.HandleCancel(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled session %s\n", id)
			return nil
		},
	}
}

func newLoadCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "load SESSION_ID",
		Short: "Show the cards of a session from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.generation.LoadSession(ctx, args[0]); err != nil {
				return err
			}
			printCards(cmd.OutOrStdout(), a.state.Snapshot().Review.Cards)
			return nil
		},
	}
}

func newResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			a.reset(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "session forgotten")
			return nil
		},
	}
}
