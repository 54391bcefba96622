// Package coordinator implements the control plane of a hybridlife worker
// group: who the workers are, which rank each holds, whether they are still
// alive, and which group job is running.
//
// # Overview
//
// A row-partitioned job needs a fixed group of workers that all agree on
// their ranks and on each other's addresses. The coordinator owns that
// agreement. It does not touch cells; workers exchange halo rows directly
// with each other and only meet at the coordinator for reductions and to
// report results.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│             COORDINATOR              │
//	├──────────────────────────────────────┤
//	│  ┌────────────────────────────────┐  │
//	│  │ Group                          │  │
//	│  │  - fixed size (GROUP_SIZE)     │  │
//	│  │  - rank = registration order   │  │
//	│  │  - peers indexed by rank       │  │
//	│  └────────────────────────────────┘  │
//	│  ┌────────────────────────────────┐  │
//	│  │ HealthMonitor                  │  │
//	│  │  - polls GET /health           │  │
//	│  │  - 3 misses → unhealthy        │  │
//	│  │  - callback aborts the job     │  │
//	│  └────────────────────────────────┘  │
//	│  ┌────────────────────────────────┐  │
//	│  │ Tracker                        │  │
//	│  │  - one group job at a time     │  │
//	│  │  - one report per rank         │  │
//	│  │  - merge: slowest timings      │  │
//	│  └────────────────────────────────┘  │
//	└──────────────────────────────────────┘
//
// # Job Lifecycle
//
//  1. Tracker.Begin admits the job (ErrBusy if one is running).
//  2. The coordinator sends every worker its JobControl: job ID, rank and
//     the peer list from Group.Peers.
//  3. Workers run the engine, meeting at the coordinator's rendezvous for
//     each reduction.
//  4. Each worker posts a ResultReport; Tracker.Report completes the job
//     when all ranks have reported, or fails it on the first error report.
//  5. If the HealthMonitor loses a worker first, the coordinator calls
//     Tracker.Abort and tells the remaining workers to stop.
//
// # Failure Model
//
// There is no recovery. A group job cannot continue without one of its
// ranks, so any failure ends the job with an error on every worker and the
// client sees that error. The group itself survives: a restarted worker
// registering under the same ID gets its old rank back.
//
// # Thread Safety
//
// Group, HealthMonitor and Tracker are safe for concurrent use and return
// copies of their internal state.
package coordinator
