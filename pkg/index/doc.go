/*
Package index is the system of record for References and their Artifacts,
backed by a single SQLite file opened in WAL mode with a 5s busy_timeout.
One writer connection serializes every mutation; a separate reader pool
(same DSN, up to 4 connections) serves QueryReady/ListByStage/ListByHost
without waiting behind it.

A partial unique index on canonical_url (WHERE processable = 1) is the
enforcement point for "one processable Reference per canonical URL at a
time" — UpsertNew surfaces a violation as ErrDuplicateCanonicalURL rather
than a raw constraint error. Transition uses an UPDATE ... WHERE id = ? AND
stage = ? guard plus a RowsAffected check instead of row locking, so two
workers racing to transition the same Reference never corrupt it: the loser
gets ErrStaleTransition and re-reads.

	idx, err := index.Open("ingest.db")
	if err != nil { ... }
	defer idx.Close()
	if err := idx.AcquireLock(ctx); err != nil { ... }
	ready, err := idx.QueryReady(ctx, time.Now(), 50)
*/
package index
