package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/storage/models"
)

type stubLoader struct {
	text  string
	err   error
	calls int
}

func (s *stubLoader) Load(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

type stubGenerator struct {
	questions []models.MCQ
	err       error
	gotText   string
}

func (s *stubGenerator) GenerateQuiz(_ context.Context, text string) ([]models.MCQ, error) {
	s.gotText = text
	return s.questions, s.err
}

type stubStore struct {
	quizzes []*models.Quiz
	err     error
}

func (s *stubStore) InsertQuiz(_ context.Context, q *models.Quiz) error {
	if s.err != nil {
		return s.err
	}
	q.ID = "quiz-1"
	s.quizzes = append(s.quizzes, q)
	return nil
}

func validMaterial() MaterialRequest {
	return MaterialRequest{
		PDFURL: "https://files.example.com/bio/cells.pdf",
		Metadata: models.MaterialMetadata{
			ClassID:    "class-1",
			MaterialID: "mat-1",
			Subject:    "Biology",
			TeacherID:  "t-1",
		},
	}
}

func TestMaterialRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MaterialRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*MaterialRequest) {}},
		{name: "no url", mutate: func(r *MaterialRequest) { r.PDFURL = "" }, wantErr: "pdf_url is required"},
		{name: "ftp url", mutate: func(r *MaterialRequest) { r.PDFURL = "ftp://x/a.pdf" }, wantErr: "invalid pdf_url"},
		{name: "relative url", mutate: func(r *MaterialRequest) { r.PDFURL = "files/a.pdf" }, wantErr: "invalid pdf_url"},
		{name: "missing keys", mutate: func(r *MaterialRequest) { r.Metadata.Subject = ""; r.Metadata.TeacherID = " " }, wantErr: "missing metadata keys: subject, teacher_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validMaterial()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
			assert.Equal(t, tt.wantErr, apperr.DetailOf(err))
		})
	}
}

func TestProcessUpload(t *testing.T) {
	text := strings.Repeat("x", 3500)
	loader := &stubLoader{text: text}
	gen := &stubGenerator{questions: []models.MCQ{{Question: "q", Options: []string{"a", "b", "c", "d"}, Answer: 2}}}
	p := NewProcessor(loader, gen, &stubStore{})

	resp, err := p.ProcessUpload(context.Background(), validMaterial())
	require.NoError(t, err)

	assert.Equal(t, "success", resp.Status)
	assert.Len(t, resp.TextPreview, PreviewChars)
	assert.Len(t, resp.Questions, 1)
	assert.Equal(t, "class-1", resp.Metadata.ClassID)
	assert.Equal(t, text, gen.gotText)
}

func TestProcessUpload_Failures(t *testing.T) {
	t.Run("invalid input skips fetch", func(t *testing.T) {
		loader := &stubLoader{}
		req := validMaterial()
		req.Metadata.ClassID = ""
		_, err := NewProcessor(loader, &stubGenerator{}, &stubStore{}).ProcessUpload(context.Background(), req)
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
		assert.Zero(t, loader.calls)
	})

	t.Run("fetch error", func(t *testing.T) {
		_, err := NewProcessor(&stubLoader{err: errors.New("404")}, &stubGenerator{}, &stubStore{}).
			ProcessUpload(context.Background(), validMaterial())
		assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := NewProcessor(&stubLoader{text: "  \n"}, &stubGenerator{}, &stubStore{}).
			ProcessUpload(context.Background(), validMaterial())
		assert.Equal(t, "text extraction failed or empty content", apperr.DetailOf(err))
	})

	t.Run("generation error", func(t *testing.T) {
		gen := &stubGenerator{err: apperr.Completion("malformed JSON from language model", nil)}
		_, err := NewProcessor(&stubLoader{text: "cells"}, gen, &stubStore{}).
			ProcessUpload(context.Background(), validMaterial())
		assert.Equal(t, apperr.KindCompletionFailure, apperr.KindOf(err))
	})
}

func validQuiz() StoreQuizRequest {
	return StoreQuizRequest{
		TeacherID:   "t-1",
		ClassID:     "class-1",
		Subject:     "Biology",
		Questions:   json.RawMessage(`[{"question":"q","options":["a"],"answer":0}]`),
		MaterialID:  "mat-1",
		PDFURL:      "https://files.example.com/bio/cells.pdf",
		TextPreview: "cells are units of life",
	}
}

func TestStoreQuiz(t *testing.T) {
	store := &stubStore{}
	resp, err := NewProcessor(nil, nil, store).StoreQuiz(context.Background(), validQuiz())
	require.NoError(t, err)

	assert.Equal(t, "Quiz stored successfully", resp.Message)
	assert.Equal(t, "quiz-1", resp.ID)
	require.Len(t, store.quizzes, 1)
	assert.Equal(t, "t-1", store.quizzes[0].CreatedBy)
}

func TestStoreQuiz_Validation(t *testing.T) {
	req := validQuiz()
	req.Questions = json.RawMessage("null")
	req.Subject = ""
	_, err := NewProcessor(nil, nil, &stubStore{}).StoreQuiz(context.Background(), req)
	assert.Equal(t, "missing fields: subject, questions", apperr.DetailOf(err))

	req = validQuiz()
	req.Questions = json.RawMessage("{broken")
	_, err = NewProcessor(nil, nil, &stubStore{}).StoreQuiz(context.Background(), req)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestStoreQuiz_RejectsNonHTTPURL(t *testing.T) {
	for _, raw := range []string{"file:///etc/passwd", "gopher://files/a.pdf", "cells.pdf"} {
		store := &stubStore{}
		req := validQuiz()
		req.PDFURL = raw

		_, err := NewProcessor(nil, nil, store).StoreQuiz(context.Background(), req)
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err), raw)
		assert.Equal(t, "invalid pdf_url", apperr.DetailOf(err), raw)
		assert.Empty(t, store.quizzes, raw)
	}
}

func TestStoreQuiz_StoreError(t *testing.T) {
	_, err := NewProcessor(nil, nil, &stubStore{err: errors.New("locked")}).StoreQuiz(context.Background(), validQuiz())
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestProcessUpload_EchoesExtraMetadata(t *testing.T) {
	body := `{"pdf_url":"https://files.example.com/bio/cells.pdf","metadata":{` +
		`"class_id":"class-1","material_id":"mat-1","subject":"Biology","teacher_id":"t-1",` +
		`"week":3,"title":"Cell structure"}}`

	var req MaterialRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.Equal(t, "class-1", req.Metadata.ClassID)
	assert.Equal(t, map[string]interface{}{"week": float64(3), "title": "Cell structure"}, req.Metadata.Extra)

	loader := &stubLoader{text: "cells"}
	gen := &stubGenerator{questions: []models.MCQ{{Question: "q", Options: []string{"a", "b", "c", "d"}}}}
	resp, err := NewProcessor(loader, gen, &stubStore{}).ProcessUpload(context.Background(), req)
	require.NoError(t, err)

	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded struct {
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, map[string]interface{}{
		"class_id":    "class-1",
		"material_id": "mat-1",
		"subject":     "Biology",
		"teacher_id":  "t-1",
		"week":        float64(3),
		"title":       "Cell structure",
	}, decoded.Metadata)
}
