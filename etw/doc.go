// Package etw reconstructs a profiling session's processes, threads, call
// stacks, and markers from a time-ordered stream of decoded ETW events.
// Live ETW session management is an external collaborator's concern; this
// package only consumes already-decoded events and emits resolved samples
// against an external profile-sink interface (C7/C8 of the event-stream
// profile builder).
package etw
