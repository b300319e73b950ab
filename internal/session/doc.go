// Package session tracks which remote generation job the client is attached
// to. The id is written to durable storage as soon as the service assigns it,
// so a restart during a long run re-attaches instead of losing the job.
package session
