// Package schedule keeps the one-shot wake-up table consistent with the form
// collection and turns timer fires into gated executions.
//
// # Control flow
//
// A store change (user edit or result write) publishes the new collection; the
// service reconciles the wake-up table against it. When a wake-up fires, the
// gate checks the fire is within the execution window, runs the executor (or
// records a Timeout), and notifies. The executor's result write publishes
// another store change, which is what schedules tomorrow's wake-up: persisting
// a result always triggers a reconciliation pass.
package schedule
