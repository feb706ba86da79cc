// Package reconcile keeps registry and query-pool coordinates consistent with
// the embedding model of the active session.
//
// Two triggers rewrite coordinates:
//
//   - Model switch (Reconcile): every record's sequence is re-encoded; every
//     query candidate's original point is decoded, cleaned and re-encoded.
//     Stored sequences and original points are never changed.
//   - Coordinate edit (EditCoordinates): the edited point is decoded and the
//     result replaces the record's sequence. This is the only path that
//     rewrites a stored sequence.
//
// Round-trips for distinct items are independent and are dispatched
// concurrently in batches. A call either returns a complete result or an
// error; inputs are never modified.
//
// Results may resolve out of order. Generations hands out a monotonically
// increasing number per request and refuses to commit any result that is not
// from the newest one.
package reconcile
