// Package service contains the client's orchestrators. They coordinate the
// remote generation service, the Anki client and the session manager, and
// express every outcome as an update of the shared state container.
//
// Key components:
//
// 1. GenerationService:
//   - Drives the wizard from dashboard through config and generating to review
//   - Follows the generation stream, with an optional idle watchdog
//   - Loads historical sessions, resets the workflow, estimates cost
//
// 2. ReviewService:
//   - Edits and deletes cards against the draft or historical backend
//   - Mirrors edits and deletions of committed cards into Anki
//
// 3. SyncService:
//   - Pushes a session's cards to Anki and follows the sync stream
//
// Error handling follows one rule: a failure before the remote side has
// accepted work is returned to the caller, a failure reported by a stream is
// recorded in the corresponding log with its error flag set. Only one
// generation run and one sync can be attached at a time; a second attempt
// returns ErrBusy.
package service
