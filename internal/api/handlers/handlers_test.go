package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/chatbot"
	"github.com/smartclass/backend/internal/exam"
	"github.com/smartclass/backend/internal/ingestion"
	"github.com/smartclass/backend/internal/results"
	"github.com/smartclass/backend/internal/storage/models"
)

type fakeEngine struct {
	resp    *chatbot.AskResponse
	err     error
	got     chatbot.AskRequest
	records []models.ChatRecord
}

func (f *fakeEngine) Ask(_ context.Context, req chatbot.AskRequest) (*chatbot.AskResponse, error) {
	f.got = req
	return f.resp, f.err
}

func (f *fakeEngine) History(_ context.Context, classID, _ string, _ int) ([]models.ChatRecord, error) {
	if classID == "" {
		return nil, apperr.InvalidInput("class_id is required")
	}
	return f.records, nil
}

type fakeProcessor struct {
	err error
}

func (f fakeProcessor) ProcessUpload(_ context.Context, req ingestion.MaterialRequest) (*ingestion.UploadResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.UploadResponse{Status: "success", Metadata: req.Metadata, TextPreview: "preview"}, nil
}

func (f fakeProcessor) StoreQuiz(context.Context, ingestion.StoreQuizRequest) (*ingestion.StoreQuizResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.StoreQuizResponse{Message: "Quiz stored successfully", ID: "q1"}, nil
}

type fakeExams struct{}

func (fakeExams) Generate(context.Context, ingestion.MaterialRequest) (*exam.Response, error) {
	return &exam.Response{Message: "ok", FileURL: "https://storage.googleapis.com/questions/exam_1.pdf"}, nil
}

type fakeScraper struct {
	err error
}

func (f fakeScraper) Fetch(context.Context, results.Request) (*models.StudentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.StudentResult{Status: "success", Name: "ASHA K", SGPA: 7.86}, nil
}

func newApp(engine ChatEngine, proc UploadProcessor, scraper ResultFetcher) *fiber.App {
	app := fiber.New()

	chat := NewChatbotHandler(engine)
	app.Post("/chatbot/", chat.Ask)
	app.Get("/chatbot/history", chat.History)

	materials := NewMaterialHandler(proc, fakeExams{})
	app.Post("/upload/", materials.Upload)
	app.Post("/quiz/store", materials.StoreQuiz)
	app.Post("/question/generate-exam", materials.GenerateExam)

	app.Post("/getResult", NewResultsHandler(scraper).GetResult)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestChatbotAsk(t *testing.T) {
	engine := &fakeEngine{resp: &chatbot.AskResponse{Answer: "Yes.", Documents: []string{"cats.pdf"}, SessionID: "c1:u1"}}
	app := newApp(engine, fakeProcessor{}, fakeScraper{})

	status, body := do(t, app, http.MethodPost, "/chatbot/", `{"question":"are cats mammals","class_id":"c1","user_id":"u1"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Yes.", body["answer"])
	assert.Equal(t, []interface{}{"cats.pdf"}, body["documents"])
	assert.Equal(t, "u1", engine.got.UserID)
}

func TestChatbotAsk_ErrorKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.InvalidInput("question is required"), http.StatusBadRequest, "invalid_input"},
		{apperr.Completion("chatbot timed out", errors.New("deadline")), http.StatusBadGateway, "completion_failure"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			app := newApp(&fakeEngine{err: tt.err}, fakeProcessor{}, fakeScraper{})
			status, body := do(t, app, http.MethodPost, "/chatbot/", `{"question":"q","class_id":"c1"}`)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestChatbotAsk_BadBody(t *testing.T) {
	app := newApp(&fakeEngine{}, fakeProcessor{}, fakeScraper{})
	status, body := do(t, app, http.MethodPost, "/chatbot/", `{"question":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", body["error"])
}

func TestChatbotHistory(t *testing.T) {
	engine := &fakeEngine{records: []models.ChatRecord{{ID: "r1", ClassID: "c1", Question: "q"}}}
	app := newApp(engine, fakeProcessor{}, fakeScraper{})

	status, body := do(t, app, http.MethodGet, "/chatbot/history?class_id=c1", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["history"], 1)

	status, _ = do(t, app, http.MethodGet, "/chatbot/history", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUploadAndStore(t *testing.T) {
	app := newApp(&fakeEngine{}, fakeProcessor{}, fakeScraper{})

	status, body := do(t, app, http.MethodPost, "/upload/",
		`{"pdf_url":"https://x/a.pdf","metadata":{"class_id":"c1","material_id":"m1","subject":"Bio","teacher_id":"t1"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "c1", body["metadata"].(map[string]interface{})["class_id"])

	status, body = do(t, app, http.MethodPost, "/quiz/store", `{"teacher_id":"t1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "q1", body["id"])

	status, body = do(t, app, http.MethodPost, "/question/generate-exam", `{"pdf_url":"https://x/a.pdf"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["file_url"], "exam_1.pdf")
}

func TestUpload_Upstream(t *testing.T) {
	app := newApp(&fakeEngine{}, fakeProcessor{err: apperr.Upstream("failed to fetch PDF", errors.New("404"))}, fakeScraper{})

	status, body := do(t, app, http.MethodPost, "/upload/", `{"pdf_url":"https://x/a.pdf"}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "failed to fetch PDF", body["error"])
}

func TestGetResult(t *testing.T) {
	app := newApp(&fakeEngine{}, fakeProcessor{}, fakeScraper{})
	status, body := do(t, app, http.MethodPost, "/getResult", `{"register_number":"1","dob":"01-01-2004"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ASHA K", body["name"])
	assert.Equal(t, 7.86, body["sgpa"])

	app = newApp(&fakeEngine{}, fakeProcessor{}, fakeScraper{err: apperr.NotFound("result not found")})
	status, body = do(t, app, http.MethodPost, "/getResult", `{"register_number":"1","dob":"x"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["kind"])
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"Cats", "are", "\n", "mammals."}, splitIntoWords("Cats  are\nmammals."))
	assert.Empty(t, splitIntoWords(""))
}
