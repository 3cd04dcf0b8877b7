package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
	"github.com/smartclass/backend/pkg/utils"
)

// PromptChars caps how much material text goes into a generation prompt.
const PromptChars = 2000

const quizPrompt = `You are a question generator. Return exactly 10 multiple choice questions in JSON.

Each item must be:
{
  "question": "...",
  "options": ["A", "B", "C", "D"],
  "answer": 0
}

Only return a valid JSON array - no text, no formatting, no explanations.

Content:
%s`

const examPrompt = `You are an exam question generator.
Based on the following study material, generate:
- 5 short 2-mark questions (one or two sentences, direct answers).
- 2 long 13-mark questions (essay type, analytical, detailed).

Study Material:
%s

Output format (valid JSON only, no text outside JSON):
{
  "2_mark": ["Q1", "Q2", ...],
  "13_mark": ["Q1", "Q2"]
}`

var jsonArrayPattern = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)

func (c *Client) GenerateQuiz(ctx context.Context, text string) ([]models.MCQ, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		Purpose:     "quiz generation",
		Messages:    userMessage(fmt.Sprintf(quizPrompt, utils.Truncate(text, PromptChars))),
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}

	questions, err := ParseQuiz(resp.Content)
	if err != nil {
		logger.Warn("Quiz output could not be parsed", zap.String("raw", utils.Truncate(resp.Content, 500)))
		return nil, err
	}

	logger.Info("Quiz generated", zap.Int("questions", len(questions)))
	return questions, nil
}

func (c *Client) GenerateExam(ctx context.Context, text string) (*models.ExamQuestions, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		Purpose:     "exam generation",
		Messages:    userMessage(fmt.Sprintf(examPrompt, utils.Truncate(text, PromptChars))),
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}

	exam, err := ParseExam(resp.Content)
	if err != nil {
		logger.Warn("Exam output could not be parsed", zap.String("raw", utils.Truncate(resp.Content, 500)))
		return nil, err
	}

	logger.Info("Exam questions generated",
		zap.Int("two_mark", len(exam.TwoMark)),
		zap.Int("thirteen_mark", len(exam.ThirteenMark)),
	)
	return exam, nil
}

func userMessage(content string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: content}}
}

// ParseQuiz accepts a bare JSON array, or the first array of objects embedded in prose.
func ParseQuiz(raw string) ([]models.MCQ, error) {
	raw = strings.TrimSpace(raw)

	var questions []models.MCQ
	if err := json.Unmarshal([]byte(raw), &questions); err == nil {
		return questions, nil
	}

	match := jsonArrayPattern.FindString(raw)
	if match != "" {
		if err := json.Unmarshal([]byte(match), &questions); err == nil {
			return questions, nil
		}
	}

	return nil, apperr.Completion("malformed JSON from language model", nil)
}

// ParseExam accepts a bare JSON object, or the span between the first '{' and the last '}'.
func ParseExam(raw string) (*models.ExamQuestions, error) {
	raw = strings.TrimSpace(raw)

	var exam models.ExamQuestions
	if err := json.Unmarshal([]byte(raw), &exam); err == nil {
		return &exam, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &exam); err == nil {
			return &exam, nil
		}
	}

	return nil, apperr.Completion("malformed JSON from language model", nil)
}
