package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

const submissionColumns = `id, quiz_id, student_id, attempt_number, answers, total_marks,
	obtained_marks, percentage, grading_status, submit_reason, submitted_at, updated_at`

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Create inserts a submission and assigns its attempt number. Attempts of the
// same student on the same quiz are serialized with an advisory lock.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		s.QuizID.String()+":"+s.StudentID,
	); err != nil {
		return fmt.Errorf("lock attempt: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1
		 FROM submissions WHERE quiz_id = $1 AND student_id = $2`,
		s.QuizID, s.StudentID,
	).Scan(&s.AttemptNumber); err != nil {
		return fmt.Errorf("next attempt number: %w", err)
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO submissions (quiz_id, student_id, attempt_number, answers, total_marks,
		                          obtained_marks, percentage, grading_status, submit_reason, submitted_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10)
		 RETURNING id, updated_at`,
		s.QuizID, s.StudentID, s.AttemptNumber, string(answers), s.TotalMarks,
		s.ObtainedMarks, s.Percentage, s.GradingStatus, s.Reason, s.SubmittedAt,
	).Scan(&s.ID, &s.UpdatedAt); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	s, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// List returns submissions matching the filter, newest first, with the total
// number of matches.
func (r *SubmissionRepository) List(ctx context.Context, f model.SubmissionFilter, limit, offset int) ([]model.Submission, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.QuizID != uuid.Nil {
		args = append(args, f.QuizID)
		conds = append(conds, "quiz_id = $"+strconv.Itoa(len(args)))
	}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		conds = append(conds, "student_id = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM submissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := `SELECT ` + submissionColumns + ` FROM submissions` + where +
		` ORDER BY submitted_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	subs := make([]model.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, *s)
	}
	return subs, total, rows.Err()
}

// Update persists the marks fields of a submission.
func (r *SubmissionRepository) Update(ctx context.Context, s *model.Submission) error {
	answers, err := json.Marshal(s.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	err = r.pool.QueryRow(ctx,
		`UPDATE submissions
		 SET answers = $1::jsonb, obtained_marks = $2, percentage = $3,
		     grading_status = $4, updated_at = NOW()
		 WHERE id = $5
		 RETURNING updated_at`,
		string(answers), s.ObtainedMarks, s.Percentage, s.GradingStatus, s.ID,
	).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ApplyGrades bulk-updates the marks fields of many submissions in one
// statement using UNNEST. A row is only written when its updated_at still
// matches the value read with the submission; the ids of the rows that
// changed in between are returned as stale.
func (r *SubmissionRepository) ApplyGrades(ctx context.Context, subs []*model.Submission) ([]uuid.UUID, error) {
	n := len(subs)
	if n == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, n)
	answers := make([]string, 0, n)
	obtained := make([]float64, 0, n)
	percentages := make([]int32, 0, n)
	statuses := make([]string, 0, n)
	readAt := make([]time.Time, 0, n)

	for _, s := range subs {
		raw, err := json.Marshal(s.Answers)
		if err != nil {
			return nil, fmt.Errorf("marshal answers: %w", err)
		}
		ids = append(ids, s.ID)
		answers = append(answers, string(raw))
		obtained = append(obtained, s.ObtainedMarks)
		percentages = append(percentages, int32(s.Percentage))
		statuses = append(statuses, string(s.GradingStatus))
		readAt = append(readAt, s.UpdatedAt)
	}

	query := `
		UPDATE submissions AS s
		SET answers = t.answers::jsonb,
		    obtained_marks = t.obtained,
		    percentage = t.percentage,
		    grading_status = t.status,
		    updated_at = NOW()
		FROM (
			SELECT
				u.id,
				u.answers,
				u.obtained,
				u.percentage,
				u.status,
				u.read_at
			FROM UNNEST(
				$1::uuid[],
				$2::text[],
				$3::float8[],
				$4::int[],
				$5::text[],
				$6::timestamptz[]
			) AS u (id, answers, obtained, percentage, status, read_at)
		) AS t
		WHERE s.id = t.id AND s.updated_at = t.read_at
		RETURNING s.id
	`

	rows, err := r.pool.Query(ctx, query, ids, answers, obtained, percentages, statuses, readAt)
	if err != nil {
		return nil, err
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}

	written := make(map[uuid.UUID]struct{}, len(applied))
	for _, id := range applied {
		written[id] = struct{}{}
	}
	var stale []uuid.UUID
	for _, id := range ids {
		if _, ok := written[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		s       model.Submission
		answers []byte
	)
	if err := row.Scan(&s.ID, &s.QuizID, &s.StudentID, &s.AttemptNumber, &answers, &s.TotalMarks,
		&s.ObtainedMarks, &s.Percentage, &s.GradingStatus, &s.Reason, &s.SubmittedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &s.Answers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	return &s, nil
}
