package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/fieldsync/internal/model"
	"github.com/roach88/fieldsync/internal/remote"
)

// Entity snapshots are stored as JSON documents in the same field-numbered form
// the remote store uses, so that local and remote copies decode identically.
var docCodec = remote.NewCodec()

func encodeDoc(v any) (string, error) {
	doc, err := docCodec.Encode(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDoc(raw string, out any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return docCodec.Decode(doc, out)
}

// UpsertSurvey stores or replaces a survey definition.
func (s *Store) UpsertSurvey(ctx context.Context, survey model.Survey) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.UpsertSurvey(ctx, survey)
	})
}

// UpsertSurvey stores or replaces a survey definition.
func (tx *Tx) UpsertSurvey(ctx context.Context, survey model.Survey) error {
	doc, err := encodeDoc(survey)
	if err != nil {
		return fmt.Errorf("upsert survey %s: %w", survey.ID, err)
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO surveys (id, title, doc) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, doc = excluded.doc
	`, survey.ID, survey.Title, doc)
	if err != nil {
		return fmt.Errorf("upsert survey %s: %w", survey.ID, err)
	}
	return nil
}

// GetSurvey returns a stored survey definition.
func (s *Store) GetSurvey(ctx context.Context, id string) (model.Survey, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM surveys WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.Survey{}, fmt.Errorf("get survey %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Survey{}, fmt.Errorf("get survey %s: %w", id, err)
	}
	var survey model.Survey
	if err := decodeDoc(doc, &survey); err != nil {
		return model.Survey{}, fmt.Errorf("decode survey %s: %w", id, err)
	}
	return survey, nil
}

// ListSurveys returns all stored surveys ordered by id.
func (s *Store) ListSurveys(ctx context.Context) ([]model.Survey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM surveys ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query surveys: %w", err)
	}
	defer rows.Close()

	surveys := []model.Survey{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		var survey model.Survey
		if err := decodeDoc(doc, &survey); err != nil {
			return nil, fmt.Errorf("decode survey %s: %w", id, err)
		}
		surveys = append(surveys, survey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return surveys, nil
}

// UpsertLocationOfInterest stores or replaces a location of interest snapshot.
func (s *Store) UpsertLocationOfInterest(ctx context.Context, loi model.LocationOfInterest) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.UpsertLocationOfInterest(ctx, loi)
	})
}

// UpsertLocationOfInterest stores or replaces a location of interest snapshot.
func (tx *Tx) UpsertLocationOfInterest(ctx context.Context, loi model.LocationOfInterest) error {
	doc, err := encodeDoc(loi)
	if err != nil {
		return fmt.Errorf("upsert location of interest %s: %w", loi.ID, err)
	}
	state := loi.State
	if state == "" {
		state = model.EntityStateDefault
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO lois (id, survey_id, job_id, state, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			survey_id = excluded.survey_id,
			job_id = excluded.job_id,
			state = excluded.state,
			doc = excluded.doc
	`, loi.ID, loi.SurveyID, loi.JobID, string(state), doc)
	if err != nil {
		return fmt.Errorf("upsert location of interest %s: %w", loi.ID, err)
	}
	return nil
}

// GetLocationOfInterest returns a location of interest snapshot, including soft
// deleted ones.
func (s *Store) GetLocationOfInterest(ctx context.Context, id string) (model.LocationOfInterest, error) {
	return getLocationOfInterest(ctx, s.db, id)
}

// GetLocationOfInterest returns a location of interest snapshot inside the transaction.
func (tx *Tx) GetLocationOfInterest(ctx context.Context, id string) (model.LocationOfInterest, error) {
	return getLocationOfInterest(ctx, tx.tx, id)
}

func getLocationOfInterest(ctx context.Context, q querier, id string) (model.LocationOfInterest, error) {
	var state, doc string
	err := q.QueryRowContext(ctx, `SELECT state, doc FROM lois WHERE id = ?`, id).Scan(&state, &doc)
	if err == sql.ErrNoRows {
		return model.LocationOfInterest{}, fmt.Errorf("get location of interest %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.LocationOfInterest{}, fmt.Errorf("get location of interest %s: %w", id, err)
	}
	var loi model.LocationOfInterest
	if err := decodeDoc(doc, &loi); err != nil {
		return model.LocationOfInterest{}, fmt.Errorf("decode location of interest %s: %w", id, err)
	}
	loi.State = model.EntityState(state)
	return loi, nil
}

// ListLocationsOfInterest returns the live (not soft deleted) locations of interest
// of a survey ordered by id.
func (s *Store) ListLocationsOfInterest(ctx context.Context, surveyID string) ([]model.LocationOfInterest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, doc FROM lois
		WHERE survey_id = ? AND state = ?
		ORDER BY id ASC
	`, surveyID, string(model.EntityStateDefault))
	if err != nil {
		return nil, fmt.Errorf("query locations of interest: %w", err)
	}
	defer rows.Close()

	lois := []model.LocationOfInterest{}
	for rows.Next() {
		var id, state, doc string
		if err := rows.Scan(&id, &state, &doc); err != nil {
			return nil, fmt.Errorf("scan location of interest: %w", err)
		}
		var loi model.LocationOfInterest
		if err := decodeDoc(doc, &loi); err != nil {
			return nil, fmt.Errorf("decode location of interest %s: %w", id, err)
		}
		loi.State = model.EntityState(state)
		lois = append(lois, loi)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations of interest: %w", err)
	}
	return lois, nil
}

// MarkLocationOfInterestDeleted soft deletes a location of interest and all of its
// submissions.
func (tx *Tx) MarkLocationOfInterestDeleted(ctx context.Context, id string) error {
	res, err := tx.tx.ExecContext(ctx, `UPDATE lois SET state = ? WHERE id = ?`,
		string(model.EntityStateDeleted), id)
	if err != nil {
		return fmt.Errorf("delete location of interest %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete location of interest %s: %w", id, err)
	} else if n == 0 {
		return fmt.Errorf("delete location of interest %s: %w", id, ErrNotFound)
	}
	if _, err := tx.tx.ExecContext(ctx, `UPDATE submissions SET state = ? WHERE loi_id = ?`,
		string(model.EntityStateDeleted), id); err != nil {
		return fmt.Errorf("delete submissions of %s: %w", id, err)
	}
	return nil
}

// UpsertSubmission stores or replaces a submission snapshot.
func (s *Store) UpsertSubmission(ctx context.Context, sub model.Submission) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.UpsertSubmission(ctx, sub)
	})
}

// UpsertSubmission stores or replaces a submission snapshot.
func (tx *Tx) UpsertSubmission(ctx context.Context, sub model.Submission) error {
	doc, err := encodeDoc(sub)
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", sub.ID, err)
	}
	state := sub.State
	if state == "" {
		state = model.EntityStateDefault
	}
	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO submissions (id, survey_id, loi_id, job_id, state, doc) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			survey_id = excluded.survey_id,
			loi_id = excluded.loi_id,
			job_id = excluded.job_id,
			state = excluded.state,
			doc = excluded.doc
	`, sub.ID, sub.SurveyID, sub.LOIID, sub.JobID, string(state), doc)
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", sub.ID, err)
	}
	return nil
}

// GetSubmission returns a submission snapshot, including soft deleted ones.
func (s *Store) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	return getSubmission(ctx, s.db, id)
}

// GetSubmission returns a submission snapshot inside the transaction.
func (tx *Tx) GetSubmission(ctx context.Context, id string) (model.Submission, error) {
	return getSubmission(ctx, tx.tx, id)
}

func getSubmission(ctx context.Context, q querier, id string) (model.Submission, error) {
	var state, doc string
	err := q.QueryRowContext(ctx, `SELECT state, doc FROM submissions WHERE id = ?`, id).Scan(&state, &doc)
	if err == sql.ErrNoRows {
		return model.Submission{}, fmt.Errorf("get submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("get submission %s: %w", id, err)
	}
	var sub model.Submission
	if err := decodeDoc(doc, &sub); err != nil {
		return model.Submission{}, fmt.Errorf("decode submission %s: %w", id, err)
	}
	sub.State = model.EntityState(state)
	return sub, nil
}

// ListSubmissions returns the live submissions of a location of interest ordered by id.
func (s *Store) ListSubmissions(ctx context.Context, loiID string) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, doc FROM submissions
		WHERE loi_id = ? AND state = ?
		ORDER BY id ASC
	`, loiID, string(model.EntityStateDefault))
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		var id, state, doc string
		if err := rows.Scan(&id, &state, &doc); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		var sub model.Submission
		if err := decodeDoc(doc, &sub); err != nil {
			return nil, fmt.Errorf("decode submission %s: %w", id, err)
		}
		sub.State = model.EntityState(state)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// MarkSubmissionDeleted soft deletes a submission.
func (tx *Tx) MarkSubmissionDeleted(ctx context.Context, id string) error {
	res, err := tx.tx.ExecContext(ctx, `UPDATE submissions SET state = ? WHERE id = ?`,
		string(model.EntityStateDeleted), id)
	if err != nil {
		return fmt.Errorf("delete submission %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete submission %s: %w", id, err)
	} else if n == 0 {
		return fmt.Errorf("delete submission %s: %w", id, ErrNotFound)
	}
	return nil
}
