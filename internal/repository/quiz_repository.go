package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// QuizRepository handles quiz and question data access.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetByID retrieves a quiz header by its UUID.
func (r *QuizRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error) {
	q := &model.Quiz{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, total_marks, is_active
		 FROM quizzes WHERE id = $1`, id,
	).Scan(&q.ID, &q.Title, &q.DurationMinutes, &q.TotalMarks, &q.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListActive returns every active quiz. Used to prewarm the cache on startup.
func (r *QuizRepository) ListActive(ctx context.Context) ([]model.Quiz, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, duration_minutes, total_marks, is_active
		 FROM quizzes WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.DurationMinutes, &q.TotalMarks, &q.IsActive); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// ListQuestions returns a quiz's questions, answer keys included, by ordinal.
func (r *QuizRepository) ListQuestions(ctx context.Context, quizID uuid.UUID) ([]model.QuestionDTO, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_num, question_type, question_text, marks, options, correct_answer
		 FROM questions WHERE quiz_id = $1
		 ORDER BY order_num`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.QuestionDTO
	for rows.Next() {
		var (
			q                model.QuestionDTO
			options, correct []byte
		)
		if err := rows.Scan(&q.ID, &q.OrderNum, &q.Type, &q.Text, &q.Marks, &options, &correct); err != nil {
			return nil, err
		}
		q.Options = options
		q.CorrectAnswer = correct
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a quiz and its questions in one transaction.
func (r *QuizRepository) Create(ctx context.Context, quiz *model.Quiz, questions []model.QuestionDTO) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO quizzes (id, title, duration_minutes, total_marks, is_active)
		 VALUES ($1, $2, $3, $4, $5)`,
		quiz.ID, quiz.Title, quiz.DurationMinutes, quiz.TotalMarks, quiz.IsActive,
	); err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range questions {
		q := &questions[i]
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		batch.Queue(
			`INSERT INTO questions (id, quiz_id, order_num, question_type, question_text, marks, options, correct_answer)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, quiz.ID, q.OrderNum, q.ResolvedType(), q.ResolvedText(), q.Marks,
			nullableJSON(q.Options), nullableJSON(q.CorrectAnswer),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	return tx.Commit(ctx)
}

// nullableJSON maps an empty raw message to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
