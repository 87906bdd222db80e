// Package forms holds the schedule-entry data model and its file-backed store.
//
// The forms file is a JSON array of entries. It is the boundary shared with the
// capture/editing UI: anything may rewrite it, and the store's watch loop picks
// the change up and publishes the new collection to subscribers. In-process
// mutations (execution results) go through Store.Update, which serializes the
// whole-collection read-modify-write behind a single mutex and publishes too.
package forms
