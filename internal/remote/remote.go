// Package remote defines the collaborators the sync engine talks to on the far side
// of the network, and the protocol that turns queued mutations into remote writes.
package remote

import (
	"context"
	"errors"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote/wire"
)

// ErrUnknownOperation is returned for a mutation whose operation the apply protocol
// does not know. It signals a programming error, not a transient failure.
var ErrUnknownOperation = errors.New("unknown mutation operation")

// Op is the kind of a single remote write.
type Op string

const (
	// OpMerge creates the document or merges the given fields into it.
	OpMerge Op = "MERGE"
	// OpDelete removes the document and every document below its path.
	OpDelete Op = "DELETE"
)

// Write is one document write inside a batch.
type Write struct {
	Path string
	Op   Op
	Data map[string]any // nil for OpDelete
}

// Codec converts entities to and from remote documents.
type Codec interface {
	Encode(v any) (map[string]any, error)
	Decode(doc map[string]any, out any) error
}

// BatchWriter commits a list of writes atomically: either every write is applied
// or none is.
type BatchWriter interface {
	Commit(ctx context.Context, writes []Write) error
}

// BlobStore stores media files.
type BlobStore interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// SurveyReader fetches survey definitions and their locations of interest.
type SurveyReader interface {
	FetchSurvey(ctx context.Context, surveyID string) (model.Survey, error)
	FetchLocationsOfInterest(ctx context.Context, surveyID string) ([]model.LocationOfInterest, error)
}

// EntitySource reads the current local state of entities.
type EntitySource interface {
	GetLocationOfInterest(ctx context.Context, id string) (model.LocationOfInterest, error)
	GetSubmission(ctx context.Context, id string) (model.Submission, error)
}

// NewCodec returns the codec for the entity model.
func NewCodec() *wire.Codec {
	return wire.New(
		wire.OneOf[model.Value](model.ValueVariants()...),
		wire.OneOf[model.Geometry](model.GeometryVariants()...),
	)
}
