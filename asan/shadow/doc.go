// Package shadow implements the out-of-band metadata store of the guarded heap.
//
// # Overview
//
// Every reservation handed out by the heap is described by a Record: the usable
// region returned to the client, the redzones flanking it, the whole reservation
// taken from the memory source, its lifecycle State and an origin used in
// diagnostics. No metadata is stored next to client buffers.
//
// # Indexes
//
// The Store keeps three structures under a single lock:
//
//   - live: a red-black tree keyed by reservation start holding Allocated and
//     Quarantined records (O(log n) Floor/Ceiling lookups)
//   - released: a red-black tree of records whose memory went back to the
//     source, remembered until the memory is reissued or the history bound is hit
//   - quarantine: a FIFO of quarantined reservations, oldest first
//
// Reservations in live never overlap each other. A registration overlapping a
// live reservation is a programmer error (ErrOverlap); one overlapping released
// reservations means the source reissued that memory, and those released
// records are forgotten.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use. Each call is atomic with
// respect to every other call; callers that need a sequence of calls to be
// atomic (look up, validate, transition) must serialize externally.
package shadow
