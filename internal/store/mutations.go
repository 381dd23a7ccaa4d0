package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

const mutationColumns = `id, survey_id, type, operation, state, retry_count, last_error, error_code,
	user_id, client_timestamp, location_of_interest_id, job_id, submission_id, collection_id, deltas`

// StatusUpdate describes a batch status change.
//
// LastError and ErrorCode are left unchanged when nil.
type StatusUpdate struct {
	Status         model.SyncStatus
	IncrementRetry bool
	LastError      *string
	ErrorCode      *model.ErrorCode
}

// InsertMutation appends a mutation in its own transaction and returns its id.
func (s *Store) InsertMutation(ctx context.Context, m model.Mutation) (int64, error) {
	var id int64
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.InsertMutation(ctx, m)
		return err
	})
	return id, err
}

// InsertMutation appends a mutation and returns its id. A mutation without a
// status is stored as PENDING. The mutation's own ID is ignored.
func (tx *Tx) InsertMutation(ctx context.Context, m model.Mutation) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, fmt.Errorf("insert mutation: %w", err)
	}
	if m.SyncStatus == "" {
		m.SyncStatus = model.StatusPending
	}

	loiID := m.EntityID
	var submissionID sql.NullString
	if m.EntityKind == model.EntityKindSubmission {
		loiID = m.ParentEntityID
		submissionID = sql.NullString{String: m.EntityID, Valid: true}
	}
	var deltas sql.NullString
	if m.DeltaPayload != nil {
		deltas = sql.NullString{String: *m.DeltaPayload, Valid: true}
	}

	res, err := tx.tx.ExecContext(ctx, `
		INSERT INTO mutations
		(survey_id, type, operation, state, retry_count, last_error, error_code,
		 user_id, client_timestamp, location_of_interest_id, job_id, submission_id, collection_id, deltas)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.SurveyID,
		string(m.EntityKind),
		string(m.Operation),
		string(m.SyncStatus),
		m.RetryCount,
		m.LastError,
		string(m.ErrorCode),
		m.UserID,
		m.ClientTimestamp.UnixMilli(),
		loiID,
		m.JobID,
		submissionID,
		m.CollectionID,
		deltas,
	)
	if err != nil {
		return 0, fmt.Errorf("insert mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert mutation: last insert id: %w", err)
	}
	tx.mutationsChanged = true
	return id, nil
}

// UpdateStatus applies u to every listed mutation in one transaction. If any id
// does not exist nothing is changed and ErrNotFound is returned.
func (s *Store) UpdateStatus(ctx context.Context, ids []int64, u StatusUpdate) error {
	if len(ids) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.UpdateStatus(ctx, ids, u)
	})
}

// UpdateStatus applies u to every listed mutation.
func (tx *Tx) UpdateStatus(ctx context.Context, ids []int64, u StatusUpdate) error {
	retry := 0
	if u.IncrementRetry {
		retry = 1
	}
	var lastError, errorCode sql.NullString
	if u.LastError != nil {
		lastError = sql.NullString{String: *u.LastError, Valid: true}
	}
	if u.ErrorCode != nil {
		errorCode = sql.NullString{String: string(*u.ErrorCode), Valid: true}
	}

	for _, id := range ids {
		res, err := tx.tx.ExecContext(ctx, `
			UPDATE mutations
			SET state = ?,
			    retry_count = retry_count + ?,
			    last_error = COALESCE(?, last_error),
			    error_code = COALESCE(?, error_code)
			WHERE id = ?
		`, string(u.Status), retry, lastError, errorCode, id)
		if err != nil {
			return fmt.Errorf("update mutation %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update mutation %d: rows affected: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("update mutation %d: %w", id, ErrNotFound)
		}
	}
	tx.mutationsChanged = true
	return nil
}

// GetMutation returns the mutation with the given id.
func (s *Store) GetMutation(ctx context.Context, id int64) (model.Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if err == sql.ErrNoRows {
		return model.Mutation{}, fmt.Errorf("get mutation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Mutation{}, fmt.Errorf("get mutation %d: %w", id, err)
	}
	return m, nil
}

// GetMutations returns the listed mutations ordered by id. Missing ids are skipped.
func (s *Store) GetMutations(ctx context.Context, ids []int64) ([]model.Mutation, error) {
	return getMutations(ctx, s.db, ids)
}

// GetMutations returns the listed mutations inside the transaction.
func (tx *Tx) GetMutations(ctx context.Context, ids []int64) ([]model.Mutation, error) {
	return getMutations(ctx, tx.tx, ids)
}

func getMutations(ctx context.Context, q querier, ids []int64) ([]model.Mutation, error) {
	if len(ids) == 0 {
		return []model.Mutation{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return queryMutations(ctx, q, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id ASC
	`, args...)
}

// MutationsByStatus returns mutations in any of the given statuses, ordered by id.
func (s *Store) MutationsByStatus(ctx context.Context, statuses ...model.SyncStatus) ([]model.Mutation, error) {
	if len(statuses) == 0 {
		return []model.Mutation{}, nil
	}
	return queryMutations(ctx, s.db, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE state IN (`+placeholders(len(statuses))+`)
		ORDER BY id ASC
	`, statusArgs(statuses)...)
}

// MutationsByParent returns the mutations of one location of interest and its
// submissions in any of the given statuses, ordered by id.
func (s *Store) MutationsByParent(ctx context.Context, loiID string, statuses ...model.SyncStatus) ([]model.Mutation, error) {
	if len(statuses) == 0 {
		return []model.Mutation{}, nil
	}
	args := append([]any{loiID}, statusArgs(statuses)...)
	return queryMutations(ctx, s.db, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE location_of_interest_id = ? AND state IN (`+placeholders(len(statuses))+`)
		ORDER BY id ASC
	`, args...)
}

// MutationsBySurvey returns every mutation of a survey ordered by id. An empty
// survey id returns the mutations of all surveys.
func (s *Store) MutationsBySurvey(ctx context.Context, surveyID string) ([]model.Mutation, error) {
	if surveyID == "" {
		return queryMutations(ctx, s.db, `SELECT `+mutationColumns+` FROM mutations ORDER BY id ASC`)
	}
	return queryMutations(ctx, s.db, `
		SELECT `+mutationColumns+` FROM mutations
		WHERE survey_id = ?
		ORDER BY id ASC
	`, surveyID)
}

// HasOutstandingMutations reports whether a location of interest, or any of its
// submissions, has a mutation that is not COMPLETED. A mutation whose photo is
// missing does not count: its metadata is already remote and its media stage
// will not run again.
func (s *Store) HasOutstandingMutations(ctx context.Context, loiID string) (bool, error) {
	return hasOutstandingMutations(ctx, s.db, loiID)
}

// HasOutstandingMutations is the transactional form of Store.HasOutstandingMutations.
func (tx *Tx) HasOutstandingMutations(ctx context.Context, loiID string) (bool, error) {
	return hasOutstandingMutations(ctx, tx.tx, loiID)
}

func hasOutstandingMutations(ctx context.Context, q querier, loiID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutations
		WHERE location_of_interest_id = ? AND state != ?
		  AND NOT (state = ? AND error_code = ?)
	`, loiID, string(model.StatusCompleted),
		string(model.StatusFailedMediaUpload), string(model.ErrorCodeMediaMissing)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count outstanding mutations: %w", err)
	}
	return n > 0, nil
}

// CountByStatus returns the number of mutations in each status. Statuses with no
// mutations are present with a zero count.
func (s *Store) CountByStatus(ctx context.Context) (map[model.SyncStatus]int, error) {
	counts := make(map[model.SyncStatus]int, len(model.AllStatuses))
	for _, st := range model.AllStatuses {
		counts[st] = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM mutations GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count mutations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan mutation count: %w", err)
		}
		counts[model.SyncStatus(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutation counts: %w", err)
	}
	return counts, nil
}

// PurgeMutations deletes every mutation in the given statuses and returns how many
// rows were removed.
func (s *Store) PurgeMutations(ctx context.Context, statuses ...model.SyncStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	var n int64
	err := s.InTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx,
			`DELETE FROM mutations WHERE state IN (`+placeholders(len(statuses))+`)`,
			statusArgs(statuses)...)
		if err != nil {
			return fmt.Errorf("purge mutations: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge mutations: rows affected: %w", err)
		}
		tx.mutationsChanged = n > 0
		return nil
	})
	return n, err
}

func queryMutations(ctx context.Context, q querier, query string, args ...any) ([]model.Mutation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var mutations []model.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	// Return empty slice instead of nil
	if mutations == nil {
		mutations = []model.Mutation{}
	}
	return mutations, nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (model.Mutation, error) {
	var (
		m            model.Mutation
		kind         string
		operation    string
		state        string
		errorCode    string
		clientMillis int64
		loiID        string
		submissionID sql.NullString
		deltas       sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.SurveyID,
		&kind,
		&operation,
		&state,
		&m.RetryCount,
		&m.LastError,
		&errorCode,
		&m.UserID,
		&clientMillis,
		&loiID,
		&m.JobID,
		&submissionID,
		&m.CollectionID,
		&deltas,
	)
	if err == sql.ErrNoRows {
		return m, err
	}
	if err != nil {
		return m, fmt.Errorf("scan mutation: %w", err)
	}

	m.EntityKind = model.EntityKind(kind)
	m.Operation = model.Operation(operation)
	m.SyncStatus = model.SyncStatus(state)
	m.ErrorCode = model.ErrorCode(errorCode)
	m.ClientTimestamp = time.UnixMilli(clientMillis).UTC()
	if submissionID.Valid {
		m.EntityID = submissionID.String
		m.ParentEntityID = loiID
	} else {
		m.EntityID = loiID
	}
	if deltas.Valid {
		payload := deltas.String
		m.DeltaPayload = &payload
	}
	return m, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []model.SyncStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}
