// Package delta encodes the per-task answer changes carried by a mutation.
//
// A delta is a mapping task id -> (task type, value or nil). Encode produces a
// versioned JSON document:
//
//	{"deltas":{"<taskId>":{"type":"TEXT","value":"hello"}},"version":1}
//
// Keys are written in sorted order, so the same delta always encodes to the same
// bytes. Strings are stored exactly as given.
//
// Decode needs the job the delta was written against: the job resolves each task id
// to its type, which determines how the value is read back. Decoding is per-entry
// fault tolerant. An entry whose task is unknown to the job, whose type tag does not
// match the task, or whose value cannot be read is dropped and reported in
// Result.Skipped; the remaining entries still decode.
package delta
