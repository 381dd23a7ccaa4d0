// Package mutation records local edits as durable mutations and moves them through
// the sync state machine.
//
// A local edit updates the entity snapshot and appends a PENDING mutation in one
// store transaction. Workers then read upload groups (every incomplete mutation of
// one location of interest and its submissions) and report progress through the
// Mark* methods. Each Mark* method is all-or-nothing: it checks every record against
// the state machine before changing any of them.
//
// Lifecycle:
//
//	PENDING -> IN_PROGRESS -> COMPLETED
//	                       -> MEDIA_UPLOAD_PENDING -> MEDIA_UPLOAD_IN_PROGRESS -> COMPLETED
//	                       -> FAILED -> IN_PROGRESS                           -> FAILED_MEDIA_UPLOAD
package mutation
