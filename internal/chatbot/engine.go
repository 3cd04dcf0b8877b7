package chatbot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
)

type HistoryPolicy string

const (
	// AppendThenCall records the question before the completion call; a failed call leaves it in history.
	AppendThenCall HistoryPolicy = "append_then_call"
	// CallThenAppend records the question and answer together only after a successful call.
	CallThenAppend HistoryPolicy = "call_then_append"
)

const DefaultTopK = 2

type PreviewStore interface {
	ListPreviews(ctx context.Context, classID string) ([]models.DocumentPreview, error)
}

type ChatRecorder interface {
	InsertChatRecord(ctx context.Context, record *models.ChatRecord) error
	ListChatRecords(ctx context.Context, classID, userID string, limit int) ([]models.ChatRecord, error)
}

type Completer interface {
	CompleteChat(ctx context.Context, question string, history []models.ChatTurn, docs []models.GroundingDocument) (string, error)
}

type EngineConfig struct {
	TopK   int
	Policy HistoryPolicy
}

type Engine struct {
	previews     PreviewStore
	materializer *Materializer
	sessions     SessionStore
	completer    Completer
	recorder     ChatRecorder
	topK         int
	policy       HistoryPolicy
}

type AskRequest struct {
	Question string `json:"question"`
	ClassID  string `json:"class_id"`
	UserID   string `json:"user_id,omitempty"`
}

func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return apperr.InvalidInput("question is required")
	}
	if strings.TrimSpace(r.ClassID) == "" {
		return apperr.InvalidInput("class_id is required")
	}
	return nil
}

type AskResponse struct {
	Answer    string   `json:"answer"`
	Documents []string `json:"documents"`
	SessionID string   `json:"session_id"`
}

// NewEngine wires the chatbot. recorder may be nil to skip the audit log.
func NewEngine(previews PreviewStore, materializer *Materializer, sessions SessionStore, completer Completer, recorder ChatRecorder, cfg EngineConfig) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Policy == "" {
		cfg.Policy = AppendThenCall
	}
	return &Engine{
		previews:     previews,
		materializer: materializer,
		sessions:     sessions,
		completer:    completer,
		recorder:     recorder,
		topK:         cfg.TopK,
		policy:       cfg.Policy,
	}
}

// Ask answers a question using the class's most relevant materials and the session history.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	startTime := time.Now()

	resp, err := e.ask(ctx, req)

	status := "ok"
	if err != nil {
		status = string(apperr.KindOf(err))
	}
	metrics.ChatbotTotal.WithLabelValues(status).Inc()
	metrics.ChatbotDuration.WithLabelValues(status).Observe(time.Since(startTime).Seconds())

	if err == nil {
		e.record(ctx, req, resp, startTime)
	}
	return resp, err
}

func (e *Engine) ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Question = strings.TrimSpace(req.Question)
	req.ClassID = strings.TrimSpace(req.ClassID)
	sessionID := SessionKey(req.ClassID, strings.TrimSpace(req.UserID))

	logger.Info("Processing chatbot question",
		zap.String("class_id", req.ClassID),
		zap.String("session_id", sessionID),
	)

	docs := e.retrieve(ctx, req.ClassID, req.Question)

	var (
		answer string
		err    error
	)
	switch e.policy {
	case CallThenAppend:
		answer, err = e.callThenAppend(ctx, sessionID, req.Question, docs)
	default:
		answer, err = e.appendThenCall(ctx, sessionID, req.Question, docs)
	}
	if err != nil {
		return nil, err
	}

	titles := make([]string, len(docs))
	for i, d := range docs {
		titles[i] = d.Title
	}

	return &AskResponse{
		Answer:    answer,
		Documents: titles,
		SessionID: sessionID,
	}, nil
}

// retrieve never fails: an unavailable preview store degrades to an ungrounded answer.
func (e *Engine) retrieve(ctx context.Context, classID, question string) []models.GroundingDocument {
	previews, err := e.previews.ListPreviews(ctx, classID)
	if err != nil {
		metrics.RetrievalDegraded.Inc()
		logger.Warn("Preview store unavailable, answering without materials",
			zap.String("class_id", classID),
			zap.Error(apperr.Upstream("preview store unavailable", err)),
		)
		return nil
	}

	selected := Score(question, previews, e.topK)
	metrics.DocumentsSelected.Observe(float64(len(selected)))

	logger.Debug("Scored class materials",
		zap.String("class_id", classID),
		zap.Int("candidates", len(previews)),
		zap.Int("selected", len(selected)),
	)

	return e.materializer.Materialize(ctx, selected)
}

func (e *Engine) appendThenCall(ctx context.Context, sessionID, question string, docs []models.GroundingDocument) (string, error) {
	history, err := e.sessions.AppendUser(ctx, sessionID, question)
	if err != nil {
		logger.Warn("Session store unavailable, answering without history",
			zap.String("session_id", sessionID), zap.Error(err))
		history = nil
	}
	// The completion receives the question separately from the turns before it.
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Message == question {
		history = history[:n-1]
	}

	answer, err := e.completer.CompleteChat(ctx, question, history, docs)
	if err != nil {
		return "", asCompletionFailure(err)
	}

	if err := e.sessions.AppendAssistant(ctx, sessionID, answer); err != nil {
		logger.Warn("Failed to store assistant turn", zap.String("session_id", sessionID), zap.Error(err))
	}
	return answer, nil
}

func (e *Engine) callThenAppend(ctx context.Context, sessionID, question string, docs []models.GroundingDocument) (string, error) {
	history, err := e.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		logger.Warn("Session store unavailable, answering without history",
			zap.String("session_id", sessionID), zap.Error(err))
		history = nil
	}

	answer, err := e.completer.CompleteChat(ctx, question, history, docs)
	if err != nil {
		return "", asCompletionFailure(err)
	}

	if err := e.sessions.AppendExchange(ctx, sessionID, question, answer); err != nil {
		logger.Warn("Failed to store chat exchange", zap.String("session_id", sessionID), zap.Error(err))
	}
	return answer, nil
}

func asCompletionFailure(err error) error {
	if apperr.Is(err, apperr.KindCompletionFailure) {
		return err
	}
	return apperr.Completion("chat completion failed", err)
}

func (e *Engine) record(ctx context.Context, req AskRequest, resp *AskResponse, startTime time.Time) {
	if e.recorder == nil {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = AnonymousUser
	}

	record := &models.ChatRecord{
		ClassID:       strings.TrimSpace(req.ClassID),
		UserID:        userID,
		Question:      strings.TrimSpace(req.Question),
		Answer:        resp.Answer,
		DocumentsUsed: len(resp.Documents),
		LatencyMS:     int(time.Since(startTime).Milliseconds()),
	}
	if err := e.recorder.InsertChatRecord(ctx, record); err != nil {
		logger.Warn("Failed to record chat turn", zap.String("session_id", resp.SessionID), zap.Error(err))
	}
}

// History lists recorded chat turns for a class, newest first.
func (e *Engine) History(ctx context.Context, classID, userID string, limit int) ([]models.ChatRecord, error) {
	if strings.TrimSpace(classID) == "" {
		return nil, apperr.InvalidInput("class_id is required")
	}
	if e.recorder == nil {
		return []models.ChatRecord{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if userID = strings.TrimSpace(userID); userID == "" {
		userID = AnonymousUser
	}

	records, err := e.recorder.ListChatRecords(ctx, classID, userID, limit)
	if err != nil {
		return nil, apperr.Upstream("chat history unavailable", fmt.Errorf("failed to list chat records: %w", err))
	}
	return records, nil
}
