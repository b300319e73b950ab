// Package domain contains the core entities of the deck workflow: cards,
// sessions, workflow steps and the pure estimation helpers. It has no
// knowledge of transport or persistence.
package domain
