// Package cluster holds the wire types and JSON-over-HTTP helpers shared by
// the coordinator and the worker processes of a hybridlife worker group.
//
// # Overview
//
// A worker group is a fixed set of worker processes, each owning a band of
// grid rows. The coordinator bootstraps the group, hosts the collective
// reductions and collects per-size results. Boundary rows travel directly
// between neighbouring workers.
//
// # Architecture
//
//	                ┌──────────────────┐
//	                │   Coordinator    │
//	                │ - rank registry  │
//	                │ - /reduce        │
//	                │ - /jobs, /results│
//	                └────────┬─────────┘
//	                         │ control, reductions, results
//	       ┌─────────────────┼─────────────────┐
//	       │                 │                 │
//	┌──────▼─────┐    ┌──────▼─────┐    ┌──────▼─────┐
//	│  Worker 0  │◄──►│  Worker 1  │◄──►│  Worker 2  │
//	│ rows 1..a  │halo│ rows a+1..b│halo│ rows b+1..N│
//	└────────────┘    └────────────┘    └────────────┘
//
// # Communication Protocol
//
// Registration (POST /register on the coordinator):
//   - Worker sends RegisterRequest, receives its RegisterResponse rank
//   - Ranks are handed out in registration order and never change
//
// Job control (POST /control on each worker):
//   - Coordinator sends JobControl with the job spec and the peer table
//   - Worker runs the job in the background and answers immediately
//
// Halo rows (POST /halo on a worker):
//   - HaloMessage from a row-adjacent neighbour, buffered until the
//     receiving worker asks for that tag
//
// Reductions (POST /reduce on the coordinator):
//   - ReduceRequest parks until every rank of the job has contributed,
//     then every caller receives the same ReduceResponse
//
// Results (POST /results on the coordinator):
//   - ResultReport with one SizeResult per grid size, or an error
//
// # Failure Handling
//
// There is no recovery inside a job. A worker that cannot reach a peer or
// the coordinator fails its run and reports the error; the coordinator then
// aborts the job on every other worker, releasing anyone parked in a
// reduction.
//
// # Timeouts
//
// PostJSON and GetJSON use a 5 second client timeout. Reductions use
// PostJSONLong, which is bounded only by the caller's context because a
// rank may legitimately wait for a slower neighbour.
package cluster
