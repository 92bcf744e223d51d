// Package syncengine moves records between a local store.SyncStore and a
// remote revision log.
//
// A round (Pump.SyncOnce) has three phases:
//  1. Pull everything after the local cursor and stage it in the inbox
//  2. Drain the inbox in revision order: handle, apply, delete
//  3. Drain the outbox in local revision order: merge onto the confirmed
//     parent, push, apply any remote revisions below the pushed one, complete
//
// A push rejected with ErrConflict means another device moved the record
// first. The pump pulls once more, which rebases the pending change onto the
// newer parent, and retries that change a single time.
//
// The pump never holds a transaction across a network call. Each store
// operation commits on its own, so a round interrupted at any point resumes
// cleanly on the next one.
package syncengine
