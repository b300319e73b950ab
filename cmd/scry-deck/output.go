package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/progress"
	"github.com/phrazzld/scry-deck/internal/state"
)

// trackerPrinter writes a tracker's new log lines, phase changes and
// progress changes as state updates arrive. It is used as a state
// subscriber, so calls are already serialised.
type trackerPrinter struct {
	out  io.Writer
	pick func(state.State) progress.Tracker

	printed  int
	phase    string
	progress progress.Counter
}

func newTrackerPrinter(out io.Writer, pick func(state.State) progress.Tracker) *trackerPrinter {
	return &trackerPrinter{out: out, pick: pick, phase: domain.PhaseIdle}
}

func (p *trackerPrinter) observe(s state.State) {
	t := p.pick(s)

	// A new run starts with an empty log.
	if len(t.Logs) < p.printed {
		p.printed = 0
	}

	if t.Phase != p.phase {
		p.phase = t.Phase
		if t.Phase != domain.PhaseIdle {
			fmt.Fprintf(p.out, "== %s\n", t.Phase)
		}
	}

	for _, entry := range t.Logs[p.printed:] {
		fmt.Fprintf(p.out, "[%s] %s\n", entry.Type, entry.Message)
	}
	p.printed = len(t.Logs)

	if t.Progress != p.progress {
		p.progress = t.Progress
		if t.Progress.Total > 0 {
			fmt.Fprintf(p.out, "   %d/%d\n", t.Progress.Current, t.Progress.Total)
		}
	}
}

func workflowTracker(s state.State) progress.Tracker { return s.Workflow.Tracker }

func syncTracker(s state.State) progress.Tracker { return s.Sync.Tracker }

// printCards writes one line per card.
func printCards(out io.Writer, cards []domain.Card) {
	if len(cards) == 0 {
		fmt.Fprintln(out, "no cards")
		return
	}

	for i, c := range cards {
		var b strings.Builder
		fmt.Fprintf(&b, "%3d  ", i)
		if c.IsCloze() {
			fmt.Fprintf(&b, "[cloze] %s", oneLine(c.Text))
		} else {
			fmt.Fprintf(&b, "%s  =>  %s", oneLine(c.Front), oneLine(c.Back))
		}
		if c.SlideNumber != nil {
			fmt.Fprintf(&b, "  (slide %d)", *c.SlideNumber)
		}
		if c.AnkiNoteID != nil {
			fmt.Fprintf(&b, "  [anki %d]", *c.AnkiNoteID)
		}
		fmt.Fprintln(out, b.String())
	}

	if maxSlide := domain.MaxSlideNumber(cards, 0); maxSlide > 0 {
		fmt.Fprintf(out, "%d cards, slides 1-%d\n", len(cards), maxSlide)
	} else {
		fmt.Fprintf(out, "%d cards\n", len(cards))
	}
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// printWorkflow summarises where a run ended up.
func printWorkflow(out io.Writer, s state.State) {
	switch {
	case s.Workflow.Step == domain.StepReview:
		printCards(out, s.Review.Cards)
	case s.Workflow.IsError:
		fmt.Fprintf(out, "generation failed for session %s\n", s.Session.ID)
	case s.Workflow.Step == domain.StepGenerating && s.Session.Active():
		fmt.Fprintf(out, "session %s is still running, use 'scry-deck recover' to follow it\n", s.Session.ID)
	case s.Workflow.Step == domain.StepDashboard:
		fmt.Fprintln(out, "generation cancelled")
	}
}
