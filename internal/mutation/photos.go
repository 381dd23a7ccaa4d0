package mutation

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/roach88/fieldsync/internal/delta"
	"github.com/roach88/fieldsync/internal/model"
)

// PhotoRef is a photo referenced by a submission mutation.
type PhotoRef struct {
	TaskID     string
	Filename   string
	LocalPath  string
	RemotePath string
}

// GetPhotoData returns the photos set by a mutation's delta. Cleared photo answers
// are not included. A payload that cannot be read at all is logged and treated as
// having no photos.
func (r *Repository) GetPhotoData(ctx context.Context, m model.Mutation) ([]PhotoRef, error) {
	if m.EntityKind != model.EntityKindSubmission || m.DeltaPayload == nil {
		return nil, nil
	}
	job, err := r.job(ctx, m.SurveyID, m.JobID)
	if err != nil {
		return nil, fmt.Errorf("photo data for mutation %d: %w", m.ID, err)
	}

	res, err := delta.DecodeWithLogger(r.logger, job, m.DeltaPayload)
	if err != nil {
		r.logger.Warn("unreadable delta payload", "mutation_id", m.ID, "error", err)
		return nil, nil
	}

	var refs []PhotoRef
	for _, d := range res.Deltas {
		photo, ok := d.Value.(model.PhotoValue)
		if !ok {
			continue
		}
		refs = append(refs, PhotoRef{
			TaskID:     d.TaskID,
			Filename:   photo.Filename,
			LocalPath:  filepath.Join(r.mediaDir, photo.Filename),
			RemotePath: model.PhotoRemotePath(m.SurveyID, photo.Filename),
		})
	}
	return refs, nil
}

func (r *Repository) job(ctx context.Context, surveyID, jobID string) (model.Job, error) {
	survey, err := r.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return model.Job{}, err
	}
	job, ok := survey.Job(jobID)
	if !ok {
		return model.Job{}, fmt.Errorf("survey %s has no job %s", surveyID, jobID)
	}
	return job, nil
}
