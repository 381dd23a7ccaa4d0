package model

import "time"

// EntityState marks local soft deletes that are waiting for the remote delete.
type EntityState string

const (
	EntityStateDefault EntityState = "DEFAULT"
	EntityStateDeleted EntityState = "DELETED"
)

// AuditInfo records who touched an entity and when.
type AuditInfo struct {
	UserID          string     `wire:"1"`
	ClientTimestamp time.Time  `wire:"2"`
	ServerTimestamp *time.Time `wire:"3"`
}

// LocationOfInterest is the spatial entity a survey collects data about.
type LocationOfInterest struct {
	ID           string            `wire:"1"`
	SurveyID     string            `wire:"2"`
	JobID        string            `wire:"3"`
	CustomTag    string            `wire:"4"`
	Geometry     Geometry          `wire:"5"`
	Properties   map[string]string `wire:"6"`
	Created      AuditInfo         `wire:"7"`
	LastModified AuditInfo         `wire:"8"`
	State        EntityState       `wire:"-"`
}

// Submission is one set of task answers collected at a location of interest.
type Submission struct {
	ID           string           `wire:"1"`
	SurveyID     string           `wire:"2"`
	LOIID        string           `wire:"3"`
	JobID        string           `wire:"4"`
	Data         map[string]Value `wire:"5"`
	Created      AuditInfo        `wire:"6"`
	LastModified AuditInfo        `wire:"7"`
	State        EntityState      `wire:"-"`
}

// LOIDocumentPath is the remote document path of a location of interest.
func LOIDocumentPath(surveyID, loiID string) string {
	return "surveys/" + surveyID + "/lois/" + loiID
}

// SubmissionDocumentPath is the remote document path of a submission. Submissions
// live below their location of interest so that deleting the LOI removes them.
func SubmissionDocumentPath(surveyID, loiID, submissionID string) string {
	return LOIDocumentPath(surveyID, loiID) + "/submissions/" + submissionID
}

// SurveyDocumentPath is the remote document path of a survey definition.
func SurveyDocumentPath(surveyID string) string {
	return "surveys/" + surveyID
}

// PhotoRemotePath is the object path of an uploaded submission photo.
func PhotoRemotePath(surveyID, filename string) string {
	return "user-media/surveys/" + surveyID + "/submissions/" + filename
}
