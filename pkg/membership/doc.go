// Package membership keeps local gym membership records consistent with an
// external subscription-billing provider.
//
// The provider is the source of truth. Local records mirror it through
// three cooperating paths: webhook reconciliation applied exactly once per
// event behind an append-only ledger, user-initiated workflows that write
// locally and defer provider follow-through onto the task queue, and batch
// maintenance sweeps that restore invariants after eventual-consistency
// windows.
//
// Invariants:
//
//   - At most one membership per owning identity is active at any instant.
//     The write path enforces this last-writer-wins; the duplicate collapse
//     sweep is the authoritative repair for concurrent-upsert windows.
//   - A provider subscription ref maps to exactly one local record.
//   - Period bounds are ordered once set; records with missing bounds are
//     repair-needed and restored from the provider's canonical object.
package membership
