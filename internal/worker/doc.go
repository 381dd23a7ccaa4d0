// Package worker contains the two background stages that push queued mutations
// to the remote side.
//
// The metadata worker applies each upload group (a location of interest and its
// submissions) as one atomic remote batch. When at least one group lands it
// schedules the media worker, which uploads the photos referenced by submission
// mutations. Both workers report scheduler.Success or scheduler.Retry and never
// return errors: failures are recorded on the mutations themselves.
//
//	PENDING/FAILED -> IN_PROGRESS -> remote batch -> COMPLETED
//	                                              -> MEDIA_UPLOAD_PENDING -> photos -> COMPLETED
package worker
