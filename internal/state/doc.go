// Package state holds the client's owned state container: the active
// session, the generation workflow, the review card ledger, the sync workflow
// and the cached estimation.
//
// There is no global store. Orchestrators receive a *Container and express
// every change as a pure func(State) State applied atomically by Update, so
// no partially applied transition is ever observable.
package state
