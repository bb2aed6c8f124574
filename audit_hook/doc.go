// Package audithook is a voxpipe extension that bridges pipeline
// lifecycle events to an immutable audit trail backend.
//
// Every job lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns appropriate severity
// levels (info for normal progress, warning for operator retries and
// sweeps, critical for failure stages) and rich metadata (file name,
// stage, part counts, error detail).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobSwept,
//	    ),
//	)
package audithook
