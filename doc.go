// Package voxpipe coordinates a long-running audio processing pipeline:
// an uploaded recording is normalized, split into chunks, transcribed in
// parallel, merged, and summarized, while a durable per-job stage record
// makes progress observable to disconnected clients.
//
// Voxpipe is designed as a library plus two thin binaries. The pipeline is
// driven by discrete external events (upload complete, part complete), not
// by a long-lived worker loop: each event handler loads the job record,
// applies an atomic stage transition, performs one step's external call,
// and returns. Clients observe progress through the read-only status
// endpoint and the bounded-retry poller in the client package.
//
// # Architecture
//
// Each subsystem lives in its own package: job defines the record and the
// stage state machine, engine applies validated transitions over a
// job.Store, pipeline sequences the stages, and store provides Memory,
// SQLite, Postgres, and Redis backends. All entity IDs use TypeID —
// type-prefixed, K-sortable, UUIDv7-based identifiers.
package voxpipe
