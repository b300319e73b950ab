// Package anki is a small client for the AnkiConnect add-on. It covers the
// mutations the review workflow needs: editing the fields of a note that was
// already synced and deleting notes.
package anki
