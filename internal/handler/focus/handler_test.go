package focus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	focusAnalysis "github.com/zhouzirui/career-counsel/backend/internal/analysis/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/model/focus"
	focusService "github.com/zhouzirui/career-counsel/backend/internal/service/focus"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(nil).RegisterRoutes(r)
	return r
}

type stubClassifier struct {
	turns []chat.Turn
}

func (s *stubClassifier) Classify(_ context.Context, turns []chat.Turn) focusService.Guidance {
	s.turns = turns
	return focusService.Guidance{
		Decision:   focusAnalysis.Decision{Focus: focus.Interview, Score: 9},
		Confidence: 0.9,
		Reason:     "mock interview request",
	}
}

func TestHandleList(t *testing.T) {
	rec := httptest.NewRecorder()
	setupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/focuses", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Focuses []focus.Focus `json:"focuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Focuses, 4)
	assert.Equal(t, focus.General, body.Focuses[0].ID)
	for _, f := range body.Focuses {
		assert.True(t, focus.Valid(f.ID))
		assert.NotEmpty(t, f.OpeningLine)
	}
}

func TestHandleDetect(t *testing.T) {
	r := setupRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/focuses/detect",
		strings.NewReader(`{"text":"Please review my resume bullet points"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var decision focusAnalysis.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, focus.Resume, decision.Focus)
	assert.Positive(t, decision.Score)

	for _, body := range []string{`{"text":"  "}`, `not json`} {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/focuses/detect", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestHandleDetect_UsesClassifier(t *testing.T) {
	classifier := &stubClassifier{}
	r := chi.NewRouter()
	New(classifier).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/focuses/detect",
		strings.NewReader(`{"text":"Can we practise a few questions?"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var decision focusAnalysis.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, focus.Interview, decision.Focus)
	assert.Equal(t, 9, decision.Score)

	require.Len(t, classifier.turns, 1)
	assert.Equal(t, chat.RoleUser, classifier.turns[0].Role)
	assert.Equal(t, "Can we practise a few questions?", classifier.turns[0].Content)
}
