// Package store defines interfaces for client-side persistence.
// These interfaces abstract the underlying storage mechanism from the
// orchestration logic, so that the session workflow keeps working when no
// durable backend is available.
package store
