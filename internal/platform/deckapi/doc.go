// Package deckapi implements generation.Service over the generation service's
// HTTP API. Uploads are multipart forms, progress arrives as a
// text/event-stream body, and everything else is JSON.
//
// Idempotent reads are retried with exponential backoff on transient
// failures; writes and stream requests are never retried because the service
// may already have acted on them.
package deckapi
