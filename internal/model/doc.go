// Package model defines the domain types shared by the fieldsync packages.
//
// Two families of types live here:
//
//   - Survey definitions and collected data: Survey, Job, Task, LocationOfInterest,
//     Submission and the typed task answers (Value).
//   - Sync bookkeeping: Mutation, the durable unit of work recorded for every local
//     edit, together with its enums (EntityKind, Operation, SyncStatus, ErrorCode).
//
// Struct fields carry `wire:"<n>"` tags consumed by the remote codec; the numbers are the
// stable field identifiers of the remote document format and must never be renumbered.
package model
