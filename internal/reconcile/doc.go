// Package reconcile implements the issue → work item reconciliation engine.
//
// One call to Engine.Reconcile handles one inbound event. Nothing is kept
// between calls; the state lives entirely in the remote store.
//
// Processing order (strict; later steps rely on the snapshot from earlier
// ones):
//  1. Locate or lazily create the sync-state control record. If it is
//     closed, the invocation is a no-op.
//  2. Locate the work item for the issue.
//  3. Build the permission ledger from the control record's comments.
//  4. Plan: dispatch on the event kind and build a patch document.
//  5. Apply: create, update, or do nothing.
//
// Only a labeled event with a pre-approved label may create a work item.
// Every other kind requires an existing record. Empty patches never reach
// the store.
//
// Remote calls are sequential and never retried here; re-delivery of the
// event by the host is the retry mechanism. Any failed remote call ends
// the invocation without compensating writes.
package reconcile
