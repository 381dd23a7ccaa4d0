package remote

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// Applier turns the mutations of one upload group into a single atomic batch.
type Applier struct {
	writer   BatchWriter
	codec    Codec
	entities EntitySource
}

// NewApplier creates an Applier.
func NewApplier(writer BatchWriter, codec Codec, entities EntitySource) *Applier {
	return &Applier{writer: writer, codec: codec, entities: entities}
}

// Apply builds one write per mutation, in order, and commits them as one batch.
//
// CREATE and UPDATE merge the full current local state of the entity. DELETE
// removes the document; the remote store removes everything below it, so deleting
// a location of interest also deletes its submissions.
func (a *Applier) Apply(ctx context.Context, mutations []model.Mutation) error {
	writes, err := a.Writes(ctx, mutations)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	if err := a.writer.Commit(ctx, writes); err != nil {
		return fmt.Errorf("commit batch of %d writes: %w", len(writes), err)
	}
	return nil
}

// Writes returns the batch Apply would commit.
func (a *Applier) Writes(ctx context.Context, mutations []model.Mutation) ([]Write, error) {
	writes := make([]Write, 0, len(mutations))
	for _, m := range mutations {
		w, err := a.write(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("mutation %d: %w", m.ID, err)
		}
		writes = append(writes, w)
	}
	return writes, nil
}

func (a *Applier) write(ctx context.Context, m model.Mutation) (Write, error) {
	path, err := documentPath(m)
	if err != nil {
		return Write{}, err
	}

	switch m.Operation {
	case model.OperationCreate, model.OperationUpdate:
		entity, err := a.snapshot(ctx, m)
		if err != nil {
			return Write{}, err
		}
		doc, err := a.codec.Encode(entity)
		if err != nil {
			return Write{}, fmt.Errorf("encode %s: %w", path, err)
		}
		return Write{Path: path, Op: OpMerge, Data: doc}, nil
	case model.OperationDelete:
		return Write{Path: path, Op: OpDelete}, nil
	default:
		return Write{}, fmt.Errorf("%w: %q", ErrUnknownOperation, m.Operation)
	}
}

func (a *Applier) snapshot(ctx context.Context, m model.Mutation) (any, error) {
	switch m.EntityKind {
	case model.EntityKindLocationOfInterest:
		loi, err := a.entities.GetLocationOfInterest(ctx, m.EntityID)
		if err != nil {
			return nil, fmt.Errorf("load local state: %w", err)
		}
		return loi, nil
	default:
		sub, err := a.entities.GetSubmission(ctx, m.EntityID)
		if err != nil {
			return nil, fmt.Errorf("load local state: %w", err)
		}
		return sub, nil
	}
}

func documentPath(m model.Mutation) (string, error) {
	switch m.EntityKind {
	case model.EntityKindLocationOfInterest:
		return model.LOIDocumentPath(m.SurveyID, m.EntityID), nil
	case model.EntityKindSubmission:
		return model.SubmissionDocumentPath(m.SurveyID, m.ParentEntityID, m.EntityID), nil
	default:
		return "", fmt.Errorf("invalid entity kind %q", m.EntityKind)
	}
}
