package domain

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Note model names understood by the external flashcard application.
const (
	ModelBasic = "Basic"
	ModelCloze = "Cloze"
)

// Canonical field names for each note model.
const (
	FieldFront = "Front"
	FieldBack  = "Back"
	FieldText  = "Text"
)

// Card represents a single flashcard produced by a generation run.
//
// Front/Back (Basic) or Text (Cloze) are the identity attributes the
// generation service returns; Fields is the canonical payload sent to the
// external flashcard application. UID is a client-only identity token that
// survives reordering and is never regenerated once assigned.
type Card struct {
	Front       string            `json:"front,omitempty"`
	Back        string            `json:"back,omitempty"`
	Text        string            `json:"text,omitempty"`
	ModelName   string            `json:"model_name,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	SlideNumber *int              `json:"slide_number,omitempty"`
	AnkiNoteID  *int64            `json:"anki_note_id,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	DeckName    string            `json:"deck_name,omitempty"`
	UID         string            `json:"_uid,omitempty"`
}

// IsCloze reports whether the card uses the cloze note model.
func (c Card) IsCloze() bool {
	return c.ModelName == ModelCloze
}

// IsCommitted reports whether the card is already linked to a note in the
// external flashcard application.
func (c Card) IsCommitted() bool {
	return c.AnkiNoteID != nil
}

// Normalize returns a copy of the card with a model name, a populated Fields
// mapping and a stable UID. Normalizing an already normalized card returns an
// equal card.
func Normalize(c Card) Card {
	out := c.Clone()

	if out.ModelName == "" {
		if out.Text != "" && out.Front == "" {
			out.ModelName = ModelCloze
		} else {
			out.ModelName = ModelBasic
		}
	}

	if len(out.Fields) == 0 {
		if out.IsCloze() {
			out.Fields = map[string]string{FieldText: out.Text}
		} else {
			out.Fields = map[string]string{
				FieldFront: out.Front,
				FieldBack:  out.Back,
			}
		}
	}

	if out.UID == "" {
		out.UID = uuid.NewString()
	}

	return out
}

// NormalizeAll normalizes every card in order, returning a new slice.
func NormalizeAll(cards []Card) []Card {
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = Normalize(c)
	}
	return out
}

// Clone returns a deep copy of the card. Mutating the copy's Fields, Tags or
// pointer attributes never affects the original.
func (c Card) Clone() Card {
	out := c
	if c.Fields != nil {
		out.Fields = maps.Clone(c.Fields)
	}
	if c.Tags != nil {
		out.Tags = slices.Clone(c.Tags)
	}
	if c.SlideNumber != nil {
		n := *c.SlideNumber
		out.SlideNumber = &n
	}
	if c.AnkiNoteID != nil {
		id := *c.AnkiNoteID
		out.AnkiNoteID = &id
	}
	return out
}

// WithoutAnkiNote returns a copy of the card with its external note link removed.
func (c Card) WithoutAnkiNote() Card {
	out := c.Clone()
	out.AnkiNoteID = nil
	return out
}

// SyncFieldsToAttributes copies the canonical fields back onto the identity
// attributes so that front/back/text reflect an edit made through Fields.
func (c Card) SyncFieldsToAttributes() Card {
	out := c.Clone()
	if out.IsCloze() {
		if v, ok := out.Fields[FieldText]; ok {
			out.Text = v
		}
		return out
	}
	if v, ok := out.Fields[FieldFront]; ok {
		out.Front = v
	}
	if v, ok := out.Fields[FieldBack]; ok {
		out.Back = v
	}
	return out
}

// MaxSlideNumber returns the largest slide number referenced by the cards, or
// totalPages when that is larger. Cards without a slide number are ignored.
func MaxSlideNumber(cards []Card, totalPages int) int {
	maxSlide := totalPages
	for _, c := range cards {
		if c.SlideNumber != nil && *c.SlideNumber > maxSlide {
			maxSlide = *c.SlideNumber
		}
	}
	return maxSlide
}
