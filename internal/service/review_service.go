package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/redact"
	"github.com/phrazzld/scry-deck/internal/state"
)

// AnkiClient defines the external flashcard application operations the
// review workflow needs.
type AnkiClient interface {
	// UpdateNoteFields replaces the field values of an existing note.
	UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error

	// DeleteNotes removes notes and their cards.
	DeleteNotes(ctx context.Context, noteIDs []int64) error
}

// ReviewService edits and deletes the cards of the active session. Each
// mutation goes to the draft backend or the historical backend depending on
// the session, and the local ledger is only changed after the backend
// accepted it.
type ReviewService struct {
	state  *state.Container
	remote generation.Service
	anki   AnkiClient
	sync   *SyncService
	logger *slog.Logger
}

// NewReviewService creates a ReviewService.
// It returns an error if any of the required dependencies are nil.
func NewReviewService(
	st *state.Container,
	remote generation.Service,
	anki AnkiClient,
	syncer *SyncService,
	log *slog.Logger,
) (*ReviewService, error) {
	if st == nil {
		return nil, domain.NewValidationError("state", "cannot be nil", domain.ErrValidation)
	}
	if remote == nil {
		return nil, domain.NewValidationError("remote", "cannot be nil", domain.ErrValidation)
	}
	if anki == nil {
		return nil, domain.NewValidationError("anki", "cannot be nil", domain.ErrValidation)
	}
	if syncer == nil {
		return nil, domain.NewValidationError("sync", "cannot be nil", domain.ErrValidation)
	}
	if log == nil {
		log = slog.Default()
	}

	return &ReviewService{
		state:  st,
		remote: remote,
		anki:   anki,
		sync:   syncer,
		logger: log.With(slog.String("component", "review_service")),
	}, nil
}

// StartEdit opens an edit of the card at index on a private copy.
// Any other open edit is replaced.
func (r *ReviewService) StartEdit(index int) error {
	_, err := r.state.TryUpdate(func(st state.State) (state.State, error) {
		if index < 0 || index >= len(st.Review.Cards) {
			return st, domain.ErrInvalidCardIndex
		}
		st.Review.Edit = &state.EditSession{
			Index: index,
			Form:  st.Review.Cards[index].Clone(),
		}
		return st, nil
	})
	return err
}

// CancelEdit closes the open edit without touching the ledger.
func (r *ReviewService) CancelEdit() {
	r.state.Update(func(st state.State) state.State {
		st.Review.Edit = nil
		return st
	})
}

// HandleFieldChange sets one field of the open edit's form. It is a no-op
// when nothing is being edited.
func (r *ReviewService) HandleFieldChange(field, value string) {
	r.state.Update(func(st state.State) state.State {
		if st.Review.Edit == nil {
			return st
		}
		edit := *st.Review.Edit
		fields := maps.Clone(edit.Form.Fields)
		if fields == nil {
			fields = make(map[string]string, 1)
		}
		fields[field] = value
		edit.Form.Fields = fields
		st.Review.Edit = &edit
		return st
	})
}

// SaveEdit persists the open edit of the card at index. A committed card is
// also updated in Anki. The edit stays open when either write fails; a
// failed Anki write after a successful backend write is not rolled back.
func (r *ReviewService) SaveEdit(ctx context.Context, index int) error {
	snap := r.state.Snapshot()
	if snap.Review.Edit == nil || snap.Review.Edit.Index != index {
		return ErrNoEdit
	}
	if !snap.Session.Active() {
		return ErrNoSession
	}
	if index < 0 || index >= len(snap.Review.Cards) {
		return domain.ErrInvalidCardIndex
	}

	sess := snap.Session
	log := r.logger.With(
		slog.String("session_id", sess.ID),
		slog.Int("index", index))

	form := snap.Review.Edit.Form.SyncFieldsToAttributes()

	var err error
	if sess.IsHistorical {
		var cards []domain.Card
		cards, err = state.ReplaceCard(snap.Review.Cards, index, form)
		if err == nil {
			err = r.remote.UpdateSessionCards(ctx, sess.ID, cards)
		}
	} else {
		err = r.remote.UpdateDraft(ctx, sess.ID, index, form)
	}
	if err != nil {
		log.Warn("failed to save card", redact.Attr(err))
		return NewServiceError("save edit", "failed to save card", err)
	}

	if form.AnkiNoteID != nil {
		if err := r.anki.UpdateNoteFields(ctx, *form.AnkiNoteID, form.Fields); err != nil {
			log.Warn("card saved but anki note update failed",
				slog.Int64("anki_note_id", *form.AnkiNoteID),
				redact.Attr(err))
			return NewServiceError("save edit", "failed to update anki note", err)
		}
	}

	_, err = r.state.TryUpdate(func(st state.State) (state.State, error) {
		cards, err := state.ReplaceCard(st.Review.Cards, index, form)
		if err != nil {
			return st, err
		}
		st.Review.Cards = cards
		st.Review.Edit = nil
		return st, nil
	})
	if err != nil {
		return err
	}

	log.Info("card saved")
	return nil
}

// ConfirmDelete opens the delete confirmation for the card at index.
func (r *ReviewService) ConfirmDelete(index int) error {
	_, err := r.state.TryUpdate(func(st state.State) (state.State, error) {
		if index < 0 || index >= len(st.Review.Cards) {
			return st, domain.ErrInvalidCardIndex
		}
		st.Review.PendingDelete = &index
		return st, nil
	})
	return err
}

// CancelDelete closes the delete confirmation.
func (r *ReviewService) CancelDelete() {
	r.state.Update(func(st state.State) state.State {
		st.Review.PendingDelete = nil
		return st
	})
}

// HandleDelete removes the card at index on the backend, then locally, and
// closes the delete confirmation. An open edit of a later card follows its
// card to the new index.
func (r *ReviewService) HandleDelete(ctx context.Context, index int) error {
	snap := r.state.Snapshot()
	if !snap.Session.Active() {
		return ErrNoSession
	}
	if index < 0 || index >= len(snap.Review.Cards) {
		return domain.ErrInvalidCardIndex
	}

	sess := snap.Session
	log := r.logger.With(
		slog.String("session_id", sess.ID),
		slog.Int("index", index))

	var err error
	if sess.IsHistorical {
		err = r.remote.DeleteSessionCard(ctx, sess.ID, index)
	} else {
		err = r.remote.DeleteDraft(ctx, sess.ID, index)
	}
	if err != nil {
		log.Warn("failed to delete card", redact.Attr(err))
		return NewServiceError("delete card", "failed to delete card", err)
	}

	_, err = r.state.TryUpdate(func(st state.State) (state.State, error) {
		cards, err := state.RemoveCard(st.Review.Cards, index)
		if err != nil {
			return st, err
		}
		st.Review.Cards = cards
		st.Review.PendingDelete = nil

		if edit := st.Review.Edit; edit != nil {
			switch {
			case edit.Index == index:
				st.Review.Edit = nil
			case edit.Index > index:
				moved := *edit
				moved.Index--
				st.Review.Edit = &moved
			}
		}
		return st, nil
	})
	if err != nil {
		return err
	}

	log.Info("card deleted")
	return nil
}

// HandleAnkiDelete deletes noteID from Anki, strips the note id from the card
// at index and persists the stripped card so it is not synced again with a
// stale id. The local card is stripped even if persisting it fails. noteID
// must be the note linked to the card at index.
func (r *ReviewService) HandleAnkiDelete(ctx context.Context, noteID int64, index int) error {
	snap := r.state.Snapshot()
	if !snap.Session.Active() {
		return ErrNoSession
	}
	if index < 0 || index >= len(snap.Review.Cards) {
		return domain.ErrInvalidCardIndex
	}
	if linked := snap.Review.Cards[index].AnkiNoteID; linked == nil || *linked != noteID {
		return domain.NewValidationError("anki_note_id",
			fmt.Sprintf("note %d is not linked to card %d", noteID, index), domain.ErrValidation)
	}

	sess := snap.Session
	log := r.logger.With(
		slog.String("session_id", sess.ID),
		slog.Int("index", index),
		slog.Int64("anki_note_id", noteID))

	if err := r.anki.DeleteNotes(ctx, []int64{noteID}); err != nil {
		log.Warn("failed to delete anki note", redact.Attr(err))
		return NewServiceError("anki delete", "failed to delete anki note", err)
	}

	stripped := snap.Review.Cards[index].WithoutAnkiNote()
	next, err := r.state.TryUpdate(func(st state.State) (state.State, error) {
		cards, err := state.ReplaceCard(st.Review.Cards, index, stripped)
		if err != nil {
			return st, err
		}
		st.Review.Cards = cards
		if st.Review.Edit != nil && st.Review.Edit.Index == index {
			edit := *st.Review.Edit
			edit.Form = edit.Form.WithoutAnkiNote()
			st.Review.Edit = &edit
		}
		return st, nil
	})
	if err != nil {
		return err
	}

	if sess.IsHistorical {
		err = r.remote.UpdateSessionCards(ctx, sess.ID, next.Review.Cards)
	} else {
		err = r.remote.UpdateDraft(ctx, sess.ID, index, stripped)
	}
	if err != nil {
		log.Warn("anki note deleted but card update failed", redact.Attr(err))
		return NewServiceError("anki delete", "failed to persist unlinked card", err)
	}

	log.Info("anki note deleted")
	return nil
}

// RefreshCards replaces the ledger with the backend's card list. Open edit
// and delete confirmation are closed since their indices may have moved.
func (r *ReviewService) RefreshCards(ctx context.Context) error {
	snap := r.state.Snapshot()
	if !snap.Session.Active() {
		return ErrNoSession
	}

	cards, err := fetchCards(ctx, r.remote, snap.Session)
	if err != nil {
		r.logger.Warn("failed to refresh cards",
			slog.String("session_id", snap.Session.ID),
			redact.Attr(err))
		return NewServiceError("refresh cards", "failed to fetch cards", err)
	}

	r.state.Update(func(st state.State) state.State {
		if st.Session != snap.Session {
			return st
		}
		st.Review = state.Review{Cards: cards}
		return st
	})
	return nil
}

// HandleSync pushes the session's cards to Anki.
func (r *ReviewService) HandleSync(ctx context.Context) error {
	return r.sync.HandleSync(ctx)
}
