package mutation

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/delta"
	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/store"
)

// LOIEdit is a local create, update or delete of a location of interest.
type LOIEdit struct {
	Operation model.Operation
	SurveyID  string
	JobID     string
	// LOIID is generated for CREATE when empty.
	LOIID      string
	Geometry   model.Geometry
	CustomTag  string
	Properties map[string]string
	UserID     string
	// CollectionID groups edits made in one data collection session.
	CollectionID string
}

// SubmissionEdit is a local create, update or delete of a submission.
type SubmissionEdit struct {
	Operation model.Operation
	SurveyID  string
	JobID     string
	LOIID     string
	// SubmissionID is generated for CREATE when empty.
	SubmissionID string
	Deltas       []model.ValueDelta
	UserID       string
	CollectionID string
}

// ApplyLOIEdit updates the local snapshot of a location of interest and records the
// edit as a PENDING mutation, in one transaction.
//
// The mutation's delta carries the geometry as the answer to the job's
// add-location task, when the job has one.
func (r *Repository) ApplyLOIEdit(ctx context.Context, e LOIEdit) (model.Mutation, error) {
	job, err := r.job(ctx, e.SurveyID, e.JobID)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("apply location of interest edit: %w", err)
	}
	if e.Operation == model.OperationCreate && e.LOIID == "" {
		e.LOIID = r.ids.Generate()
	}
	now := r.clock.Now()
	audit := model.AuditInfo{UserID: e.UserID, ClientTimestamp: now}

	m := model.Mutation{
		EntityKind:      model.EntityKindLocationOfInterest,
		Operation:       e.Operation,
		SurveyID:        e.SurveyID,
		JobID:           e.JobID,
		EntityID:        e.LOIID,
		CollectionID:    e.CollectionID,
		UserID:          e.UserID,
		ClientTimestamp: now,
		SyncStatus:      model.StatusPending,
	}

	err = r.store.InTx(ctx, func(tx *store.Tx) error {
		switch e.Operation {
		case model.OperationCreate:
			if _, err := tx.GetLocationOfInterest(ctx, e.LOIID); err == nil {
				return fmt.Errorf("location of interest %s already exists", e.LOIID)
			}
			if e.Geometry == nil {
				return fmt.Errorf("location of interest %s: geometry is required", e.LOIID)
			}
			loi := model.LocationOfInterest{
				ID:           e.LOIID,
				SurveyID:     e.SurveyID,
				JobID:        e.JobID,
				CustomTag:    e.CustomTag,
				Geometry:     e.Geometry,
				Properties:   e.Properties,
				Created:      audit,
				LastModified: audit,
				State:        model.EntityStateDefault,
			}
			if err := tx.UpsertLocationOfInterest(ctx, loi); err != nil {
				return err
			}
			payload, err := geometryDelta(job, loi.Geometry)
			if err != nil {
				return err
			}
			m.DeltaPayload = &payload
		case model.OperationUpdate:
			loi, err := liveLOI(ctx, tx, e.LOIID)
			if err != nil {
				return err
			}
			if e.Geometry != nil {
				loi.Geometry = e.Geometry
			}
			if e.CustomTag != "" {
				loi.CustomTag = e.CustomTag
			}
			if e.Properties != nil {
				loi.Properties = e.Properties
			}
			loi.LastModified = audit
			if err := tx.UpsertLocationOfInterest(ctx, loi); err != nil {
				return err
			}
			payload, err := geometryDelta(job, loi.Geometry)
			if err != nil {
				return err
			}
			m.DeltaPayload = &payload
		case model.OperationDelete:
			if _, err := liveLOI(ctx, tx, e.LOIID); err != nil {
				return err
			}
			if err := tx.MarkLocationOfInterestDeleted(ctx, e.LOIID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid operation %q", e.Operation)
		}

		id, err := tx.InsertMutation(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return model.Mutation{}, fmt.Errorf("apply location of interest edit: %w", err)
	}
	r.logger.Info("location of interest edit queued",
		"mutation_id", m.ID, "operation", m.Operation, "loi_id", m.EntityID)
	return m, nil
}

// ApplySubmissionEdit updates the local snapshot of a submission and records the
// edit as a PENDING mutation, in one transaction.
func (r *Repository) ApplySubmissionEdit(ctx context.Context, e SubmissionEdit) (model.Mutation, error) {
	job, err := r.job(ctx, e.SurveyID, e.JobID)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("apply submission edit: %w", err)
	}
	if e.Operation == model.OperationCreate && e.SubmissionID == "" {
		e.SubmissionID = r.ids.Generate()
	}
	if e.Operation != model.OperationDelete {
		if err := checkDeltas(job, e.Deltas); err != nil {
			return model.Mutation{}, fmt.Errorf("apply submission edit: %w", err)
		}
	}
	now := r.clock.Now()
	audit := model.AuditInfo{UserID: e.UserID, ClientTimestamp: now}

	m := model.Mutation{
		EntityKind:      model.EntityKindSubmission,
		Operation:       e.Operation,
		SurveyID:        e.SurveyID,
		JobID:           e.JobID,
		ParentEntityID:  e.LOIID,
		EntityID:        e.SubmissionID,
		CollectionID:    e.CollectionID,
		UserID:          e.UserID,
		ClientTimestamp: now,
		SyncStatus:      model.StatusPending,
	}

	err = r.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := liveLOI(ctx, tx, e.LOIID); err != nil {
			return err
		}

		switch e.Operation {
		case model.OperationCreate:
			if _, err := tx.GetSubmission(ctx, e.SubmissionID); err == nil {
				return fmt.Errorf("submission %s already exists", e.SubmissionID)
			}
			sub := model.Submission{
				ID:           e.SubmissionID,
				SurveyID:     e.SurveyID,
				LOIID:        e.LOIID,
				JobID:        e.JobID,
				Data:         delta.Apply(nil, e.Deltas),
				Created:      audit,
				LastModified: audit,
				State:        model.EntityStateDefault,
			}
			if err := tx.UpsertSubmission(ctx, sub); err != nil {
				return err
			}
		case model.OperationUpdate:
			sub, err := tx.GetSubmission(ctx, e.SubmissionID)
			if err != nil {
				return err
			}
			if sub.State == model.EntityStateDeleted {
				return fmt.Errorf("submission %s is deleted", e.SubmissionID)
			}
			sub.Data = delta.Apply(sub.Data, e.Deltas)
			sub.LastModified = audit
			if err := tx.UpsertSubmission(ctx, sub); err != nil {
				return err
			}
		case model.OperationDelete:
			if err := tx.MarkSubmissionDeleted(ctx, e.SubmissionID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid operation %q", e.Operation)
		}

		if e.Operation != model.OperationDelete {
			payload, err := delta.Encode(e.Deltas)
			if err != nil {
				return err
			}
			m.DeltaPayload = &payload
		}
		id, err := tx.InsertMutation(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return model.Mutation{}, fmt.Errorf("apply submission edit: %w", err)
	}
	r.logger.Info("submission edit queued",
		"mutation_id", m.ID, "operation", m.Operation, "submission_id", m.EntityID)
	return m, nil
}

func liveLOI(ctx context.Context, tx *store.Tx, id string) (model.LocationOfInterest, error) {
	loi, err := tx.GetLocationOfInterest(ctx, id)
	if err != nil {
		return loi, err
	}
	if loi.State == model.EntityStateDeleted {
		return loi, fmt.Errorf("location of interest %s is deleted", id)
	}
	return loi, nil
}

// checkDeltas rejects local edits that the codec would drop on read.
func checkDeltas(job model.Job, deltas []model.ValueDelta) error {
	for _, d := range deltas {
		task, ok := job.Task(d.TaskID)
		if !ok {
			return fmt.Errorf("job %s has no task %s", job.ID, d.TaskID)
		}
		if d.TaskType != task.Type {
			return fmt.Errorf("task %s is %s, delta is %s", d.TaskID, task.Type, d.TaskType)
		}
		if photo, ok := d.Value.(model.PhotoValue); ok {
			if err := model.CheckPhotoFilename(photo.Filename); err != nil {
				return fmt.Errorf("task %s: %w", d.TaskID, err)
			}
		}
	}
	return nil
}

// geometryDelta encodes g as the answer to the job's add-location task.
func geometryDelta(job model.Job, g model.Geometry) (string, error) {
	task, ok := job.AddLOITask()
	if !ok {
		return delta.Encode(nil)
	}
	var v model.Value
	switch geom := g.(type) {
	case model.Point:
		if task.Type == model.TaskTypeCaptureLocation {
			v = model.CaptureLocationValue{Point: geom}
		} else {
			v = model.DropPinValue{Point: geom}
		}
	case model.Polygon:
		v = model.DrawAreaValue{Polygon: geom}
	}
	if v == nil || v.TaskType() != task.Type {
		return "", fmt.Errorf("geometry %T does not answer %s task %s", g, task.Type, task.ID)
	}
	return delta.Encode([]model.ValueDelta{{TaskID: task.ID, TaskType: task.Type, Value: v}})
}
