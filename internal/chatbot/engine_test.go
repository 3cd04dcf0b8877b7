package chatbot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/storage/models"
)

type fakePreviews struct {
	previews []models.DocumentPreview
	err      error
	calls    int
}

func (f *fakePreviews) ListPreviews(_ context.Context, _ string) ([]models.DocumentPreview, error) {
	f.calls++
	return f.previews, f.err
}

type fakeLoader struct {
	mu    sync.Mutex
	texts map[string]string
	errs  map[string]error
	delay time.Duration
	calls []string
}

func (f *fakeLoader) Load(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.errs[url]; err != nil {
		return "", err
	}
	return f.texts[url], nil
}

type completionCall struct {
	question string
	history  []models.ChatTurn
	docs     []models.GroundingDocument
}

type fakeCompleter struct {
	answer string
	err    error
	calls  []completionCall
}

func (f *fakeCompleter) CompleteChat(_ context.Context, question string, history []models.ChatTurn, docs []models.GroundingDocument) (string, error) {
	f.calls = append(f.calls, completionCall{question: question, history: history, docs: docs})
	return f.answer, f.err
}

type fakeRecorder struct {
	records []models.ChatRecord
	err     error
}

func (f *fakeRecorder) InsertChatRecord(_ context.Context, r *models.ChatRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeRecorder) ListChatRecords(_ context.Context, classID, userID string, limit int) ([]models.ChatRecord, error) {
	var out []models.ChatRecord
	for _, r := range f.records {
		if r.ClassID == classID && r.UserID == userID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, f.err
}

type engineFixture struct {
	previews  *fakePreviews
	loader    *fakeLoader
	completer *fakeCompleter
	recorder  *fakeRecorder
	sessions  *MemoryStore
	engine    *Engine
}

func newFixture(t *testing.T, policy HistoryPolicy) *engineFixture {
	t.Helper()
	f := &engineFixture{
		previews: &fakePreviews{previews: []models.DocumentPreview{
			{ClassID: "class-1", PDFURL: "https://files.example.com/materials/cats.pdf", TextPreview: "cats are mammals"},
			{ClassID: "class-1", PDFURL: "https://files.example.com/materials/dogs.pdf?v=2", TextPreview: "dogs are mammals"},
		}},
		loader: &fakeLoader{texts: map[string]string{
			"https://files.example.com/materials/cats.pdf":     "Cats are small carnivorous mammals.",
			"https://files.example.com/materials/dogs.pdf?v=2": "Dogs are domesticated mammals.",
		}},
		completer: &fakeCompleter{answer: "Yes, cats are mammals."},
		recorder:  &fakeRecorder{},
		sessions:  NewMemoryStore(20, 0),
	}
	t.Cleanup(func() { f.sessions.Close() })

	f.engine = NewEngine(f.previews, NewMaterializer(f.loader, nil, 2000), f.sessions, f.completer, f.recorder,
		EngineConfig{TopK: 2, Policy: policy})
	return f
}

func TestAsk_GroundedAnswer(t *testing.T) {
	f := newFixture(t, AppendThenCall)

	resp, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1", UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "Yes, cats are mammals.", resp.Answer)
	assert.Equal(t, []string{"cats.pdf", "dogs.pdf"}, resp.Documents)
	assert.Equal(t, "class-1:u1", resp.SessionID)

	require.Len(t, f.completer.calls, 1)
	call := f.completer.calls[0]
	assert.Equal(t, "are cats mammals", call.question)
	assert.Empty(t, call.history)
	require.Len(t, call.docs, 2)
	assert.Equal(t, "cats.pdf", call.docs[0].Title)

	snap, _ := f.sessions.Snapshot(context.Background(), "class-1:u1")
	require.Len(t, snap, 2)
	assert.Equal(t, models.RoleUser, snap[0].Role)
	assert.Equal(t, models.RoleAssistant, snap[1].Role)

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, "u1", f.recorder.records[0].UserID)
	assert.Equal(t, 2, f.recorder.records[0].DocumentsUsed)
}

func TestAsk_NoOverlapProceedsUngrounded(t *testing.T) {
	f := newFixture(t, AppendThenCall)

	resp, err := f.engine.Ask(context.Background(), AskRequest{Question: "quantum physics", ClassID: "class-1"})
	require.NoError(t, err)

	assert.Empty(t, resp.Documents)
	assert.Empty(t, f.loader.calls)
	require.Len(t, f.completer.calls, 1)
	assert.Empty(t, f.completer.calls[0].docs)
	assert.Equal(t, "class-1:anonymous", resp.SessionID)
}

func TestAsk_InvalidInputBeforeExternalCalls(t *testing.T) {
	f := newFixture(t, AppendThenCall)

	for _, req := range []AskRequest{
		{Question: "", ClassID: "class-1"},
		{Question: "   ", ClassID: "class-1"},
		{Question: "are cats mammals", ClassID: ""},
	} {
		_, err := f.engine.Ask(context.Background(), req)
		assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
	}

	assert.Zero(t, f.previews.calls)
	assert.Empty(t, f.completer.calls)
	assert.Zero(t, f.sessions.Len())
}

func TestAsk_StoreFailureDegrades(t *testing.T) {
	f := newFixture(t, AppendThenCall)
	f.previews.err = errors.New("connection refused")

	resp, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	require.NoError(t, err)
	assert.Empty(t, resp.Documents)
	assert.Empty(t, f.completer.calls[0].docs)
}

func TestAsk_FailedDocumentOmitted(t *testing.T) {
	f := newFixture(t, AppendThenCall)
	f.loader.errs = map[string]error{"https://files.example.com/materials/cats.pdf": errors.New("404")}

	resp, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs.pdf"}, resp.Documents)
}

func TestAsk_CompletionFailureKeepsOrphanedTurn(t *testing.T) {
	f := newFixture(t, AppendThenCall)
	f.completer.err = errors.New("quota exceeded")

	_, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	assert.Equal(t, apperr.KindCompletionFailure, apperr.KindOf(err))

	snap, _ := f.sessions.Snapshot(context.Background(), "class-1:anonymous")
	require.Len(t, snap, 1)
	assert.Equal(t, models.RoleUser, snap[0].Role)
	assert.Empty(t, f.recorder.records)
}

func TestAsk_CallThenAppendLeavesNoOrphan(t *testing.T) {
	f := newFixture(t, CallThenAppend)
	f.completer.err = errors.New("timeout")

	_, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	assert.Equal(t, apperr.KindCompletionFailure, apperr.KindOf(err))

	snap, _ := f.sessions.Snapshot(context.Background(), "class-1:anonymous")
	assert.Empty(t, snap)

	f.completer.err = nil
	_, err = f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	require.NoError(t, err)

	snap, _ = f.sessions.Snapshot(context.Background(), "class-1:anonymous")
	assert.Len(t, snap, 2)
}

func TestAsk_HistoryCarriesPriorTurns(t *testing.T) {
	for _, policy := range []HistoryPolicy{AppendThenCall, CallThenAppend} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, policy)
			ctx := context.Background()

			_, err := f.engine.Ask(ctx, AskRequest{Question: "are cats mammals", ClassID: "class-1"})
			require.NoError(t, err)
			_, err = f.engine.Ask(ctx, AskRequest{Question: "and dogs?", ClassID: "class-1"})
			require.NoError(t, err)

			second := f.completer.calls[1]
			assert.Equal(t, "and dogs?", second.question)
			require.Len(t, second.history, 2)
			assert.Equal(t, "are cats mammals", second.history[0].Message)
			assert.Equal(t, "Yes, cats are mammals.", second.history[1].Message)
		})
	}
}

func TestAsk_RecorderFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, AppendThenCall)
	f.recorder.err = errors.New("disk full")

	_, err := f.engine.Ask(context.Background(), AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	assert.NoError(t, err)
}

func TestMaterialize_ConcurrentAndOrdered(t *testing.T) {
	loader := &fakeLoader{
		delay: 100 * time.Millisecond,
		texts: map[string]string{
			"https://x/a.pdf": strings.Repeat("a", 50),
			"https://x/b.pdf": "bbb",
			"https://x/c.pdf": "   ",
		},
	}
	m := NewMaterializer(loader, nil, 10)

	selected := []Candidate{
		{Preview: models.DocumentPreview{PDFURL: "https://x/b.pdf"}},
		{Preview: models.DocumentPreview{PDFURL: "https://x/c.pdf"}},
		{Preview: models.DocumentPreview{PDFURL: "https://x/a.pdf"}},
	}

	start := time.Now()
	docs := m.Materialize(context.Background(), selected)
	elapsed := time.Since(start)

	require.Len(t, docs, 2)
	assert.Equal(t, "b.pdf", docs[0].Title)
	assert.Equal(t, "a.pdf", docs[1].Title)
	assert.Equal(t, strings.Repeat("a", 10), docs[1].Text)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *mapCache) GetText(_ context.Context, url string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.data[url]
	return text, ok, nil
}

func (c *mapCache) SetText(_ context.Context, url, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[url] = text
	return nil
}

func TestMaterialize_UsesCache(t *testing.T) {
	loader := &fakeLoader{texts: map[string]string{"https://x/a.pdf": "alpha"}}
	cache := &mapCache{data: map[string]string{}}
	m := NewMaterializer(loader, cache, 100)
	selected := []Candidate{{Preview: models.DocumentPreview{PDFURL: "https://x/a.pdf"}}}

	m.Materialize(context.Background(), selected)
	docs := m.Materialize(context.Background(), selected)

	require.Len(t, docs, 1)
	assert.Equal(t, "alpha", docs[0].Text)
	assert.Len(t, loader.calls, 1)
}

func TestEngineHistory(t *testing.T) {
	f := newFixture(t, AppendThenCall)
	ctx := context.Background()

	_, err := f.engine.Ask(ctx, AskRequest{Question: "are cats mammals", ClassID: "class-1"})
	require.NoError(t, err)

	records, err := f.engine.History(ctx, "class-1", "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "are cats mammals", records[0].Question)

	_, err = f.engine.History(ctx, "", "", 10)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}
