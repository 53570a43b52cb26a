// Package docstore provides the abstractions of a collection-oriented document store
// with atomic, guarded field-level updates.
//
// Documents are JSON objects addressed by (collection, id). Reads use a Filter made of
// field-equals and array-contains predicates. Writes are expressed as a Mutation: a set
// of field operations (increment, set, add-to-set, remove-from-set) that the engine
// applies atomically, optionally guarded by preconditions that must hold at write time.
// A guard that does not hold makes the engine reject the whole write with
// ErrPreconditionFailed instead of silently overwriting concurrent changes.
//
// Several writes can be committed all-or-nothing with Store.Commit.
//
// Common usage pattern:
//
//	mutation := docstore.BuildMutation().
//		Increment("availableCopies", -1).
//		AddToSet("currentReaders", memberID).
//		Guarded(
//			docstore.AtLeast("availableCopies", 1),
//			docstore.NotContains("currentReaders", memberID)).
//		Finalize()
//
//	doc, err := store.Update(ctx, "books", bookID, mutation)
//	if errors.Is(err, docstore.ErrPreconditionFailed) {
//		// somebody else changed the document first
//	}
//
// Engines live in sub-packages: memengine (in-process) and postgresengine.
package docstore
