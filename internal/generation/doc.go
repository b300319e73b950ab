// Package generation defines the contract of the remote deck generation
// service. The service parses an uploaded document, generates flashcards,
// and reports progress as a stream of events; it is also the system of record
// for draft and historical sessions and pushes cards to Anki on request.
//
// Implementations live under internal/platform (see deckapi). Orchestrators in
// internal/service depend only on the Service interface.
package generation
