package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/retry"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Client struct {
	db          *sql.DB
	driver      string
	retryConfig retry.Config
}

func NewClient(driver, dsn string) (*Client, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		// One writer at a time avoids SQLITE_BUSY under concurrent requests.
		db.SetMaxOpenConns(1)
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Database client initialized", zap.String("driver", driver))

	return NewClientFromDB(db, driver), nil
}

// NewClientFromDB wraps an open handle; tests pass a sqlmock connection here.
func NewClientFromDB(db *sql.DB, driver string) *Client {
	rc := retry.DefaultConfig()
	rc.Name = "database query"
	rc.Logger = logger.GetLogger()

	return &Client{db: db, driver: driver, retryConfig: rc}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (c *Client) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *Client) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			created_by TEXT NOT NULL,
			class_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			questions TEXT NOT NULL,
			material_id TEXT NOT NULL,
			pdf_url TEXT NOT NULL,
			text_preview TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quizzes_class ON quizzes(class_id)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			file_url TEXT NOT NULL,
			teacher_id TEXT,
			material_id TEXT,
			class_id TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_class ON questions(class_id)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id TEXT PRIMARY KEY,
			class_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			documents_used INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_session ON chat_history(class_id, user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("Database schema initialized", zap.String("driver", c.driver))
	return nil
}

func (c *Client) InsertQuiz(ctx context.Context, quiz *models.Quiz) error {
	if quiz.ID == "" {
		quiz.ID = uuid.New().String()
	}
	if quiz.CreatedAt.IsZero() {
		quiz.CreatedAt = time.Now()
	}

	query := c.rebind(`
		INSERT INTO quizzes (id, created_by, class_id, subject, questions, material_id, pdf_url, text_preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := c.db.ExecContext(ctx, query,
		quiz.ID,
		quiz.CreatedBy,
		quiz.ClassID,
		quiz.Subject,
		string(quiz.Questions),
		quiz.MaterialID,
		quiz.PDFURL,
		quiz.TextPreview,
		quiz.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quiz: %w", err)
	}

	logger.Info("Quiz stored",
		zap.String("quiz_id", quiz.ID),
		zap.String("class_id", quiz.ClassID),
		zap.String("material_id", quiz.MaterialID),
	)
	return nil
}

// ListPreviews returns the text previews of every material stored for a class, oldest first.
func (c *Client) ListPreviews(ctx context.Context, classID string) ([]models.DocumentPreview, error) {
	query := c.rebind(`
		SELECT class_id, pdf_url, text_preview
		FROM quizzes
		WHERE class_id = ? AND pdf_url <> ''
		ORDER BY created_at ASC, id ASC`)

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]models.DocumentPreview, error) {
		rows, err := c.db.QueryContext(ctx, query, classID)
		if err != nil {
			return nil, fmt.Errorf("failed to query previews: %w", err)
		}
		defer rows.Close()

		var previews []models.DocumentPreview
		for rows.Next() {
			var p models.DocumentPreview
			if err := rows.Scan(&p.ClassID, &p.PDFURL, &p.TextPreview); err != nil {
				return nil, retry.Permanent(fmt.Errorf("failed to scan preview: %w", err))
			}
			previews = append(previews, p)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate previews: %w", err)
		}
		return previews, nil
	})
}

func (c *Client) InsertExam(ctx context.Context, exam *models.ExamRecord) error {
	if exam.ID == "" {
		exam.ID = uuid.New().String()
	}
	if exam.CreatedAt.IsZero() {
		exam.CreatedAt = time.Now()
	}

	query := c.rebind(`
		INSERT INTO questions (id, subject, file_url, teacher_id, material_id, class_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := c.db.ExecContext(ctx, query,
		exam.ID,
		exam.Subject,
		exam.FileURL,
		exam.TeacherID,
		exam.MaterialID,
		exam.ClassID,
		exam.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert exam: %w", err)
	}

	logger.Info("Exam recorded",
		zap.String("exam_id", exam.ID),
		zap.String("class_id", exam.ClassID),
		zap.String("file_url", exam.FileURL),
	)
	return nil
}

func (c *Client) InsertChatRecord(ctx context.Context, record *models.ChatRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := c.rebind(`
		INSERT INTO chat_history (id, class_id, user_id, question, answer, documents_used, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := c.db.ExecContext(ctx, query,
		record.ID,
		record.ClassID,
		record.UserID,
		record.Question,
		record.Answer,
		record.DocumentsUsed,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

// ListChatRecords returns the newest records for a session first.
func (c *Client) ListChatRecords(ctx context.Context, classID, userID string, limit int) ([]models.ChatRecord, error) {
	query := c.rebind(`
		SELECT id, class_id, user_id, question, answer, documents_used, latency_ms, created_at
		FROM chat_history
		WHERE class_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`)

	return retry.DoWithResult(ctx, c.retryConfig, func() ([]models.ChatRecord, error) {
		rows, err := c.db.QueryContext(ctx, query, classID, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to get chat history: %w", err)
		}
		defer rows.Close()

		var records []models.ChatRecord
		for rows.Next() {
			var r models.ChatRecord
			var createdAt int64
			err := rows.Scan(&r.ID, &r.ClassID, &r.UserID, &r.Question, &r.Answer, &r.DocumentsUsed, &r.LatencyMS, &createdAt)
			if err != nil {
				return nil, retry.Permanent(fmt.Errorf("failed to scan row: %w", err))
			}
			r.CreatedAt = time.Unix(createdAt, 0)
			records = append(records, r)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate chat history: %w", err)
		}
		return records, nil
	})
}
