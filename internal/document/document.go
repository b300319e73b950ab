// Package document inspects source files before they are uploaded for
// generation. It detects the file type from content, counts PDF pages
// locally, and rejects files the generation service cannot parse.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/generation"
)

var (
	// ErrUnsupported is returned for file types the generation service does
	// not accept.
	ErrUnsupported = errors.New("unsupported document type")

	// ErrUnreadable is returned when a file claims a supported type but
	// cannot be parsed.
	ErrUnreadable = errors.New("unreadable document")
)

// Kind is the broad format of a source document.
type Kind string

const (
	KindPDF    Kind = "pdf"
	KindSlides Kind = "pptx"
	KindText   Kind = "text"
)

const pptxMIME = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// Info describes a document as seen before upload.
type Info struct {
	Kind Kind
	MIME string
	Size int

	// Pages is zero when the format has no local page count.
	Pages int
}

// SourceType returns the source type that usually matches the document:
// plain text is a lecture script, everything else is slides.
func (i Info) SourceType() domain.SourceType {
	if i.Kind == KindText {
		return domain.SourceScript
	}
	return domain.SourceSlides
}

// Read loads the file at path and inspects it.
func Read(path string) (generation.Document, Info, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return generation.Document{}, Info{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	name := filepath.Base(path)
	info, err := Inspect(content)
	if err != nil {
		return generation.Document{}, Info{}, fmt.Errorf("%s: %w", name, err)
	}

	return generation.Document{
		FileName:    name,
		Content:     content,
		ContentType: info.MIME,
	}, info, nil
}

// Inspect classifies content and counts its pages where the format allows.
func Inspect(content []byte) (Info, error) {
	if len(content) == 0 {
		return Info{}, fmt.Errorf("%w: %w", ErrUnreadable, domain.ErrEmptyContent)
	}

	mtype := mimetype.Detect(content)
	info := Info{MIME: mtype.String(), Size: len(content)}

	switch {
	case mtype.Is("application/pdf"):
		pages, err := countPDFPages(content)
		if err != nil {
			return Info{}, err
		}
		info.Kind = KindPDF
		info.Pages = pages
	case mtype.Is(pptxMIME):
		info.Kind = KindSlides
	case isText(mtype):
		info.Kind = KindText
	default:
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupported, mtype.String())
	}

	return info, nil
}

// isText reports whether m is plain text or one of its descendants
// (markdown, csv, html and so on).
func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func countPDFPages(content []byte) (pages int, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = fmt.Errorf("%w: malformed pdf: %v", ErrUnreadable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	pages = r.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("%w: pdf has no pages", ErrUnreadable)
	}
	return pages, nil
}
