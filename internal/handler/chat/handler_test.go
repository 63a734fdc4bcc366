package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/career-counsel/backend/internal/service/chat"
)

func setupRouter() *chi.Mux {
	handler := New(chatservice.NewService(nil), nil)
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestConversationsFlow(t *testing.T) {
	r := setupRouter()

	resp := do(t, r, http.MethodPost, "/conversations", map[string]string{
		"userId":       "u1",
		"firstMessage": "I am thinking about moving from teaching into instructional design",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var conv chat.Conversation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &conv))
	assert.Equal(t, "I am thinking about moving from teaching into inst...", conv.Title)

	resp = do(t, r, http.MethodPost, "/conversations/"+conv.ID+"/messages", map[string]string{
		"userId":  "u1",
		"role":    "User",
		"content": "Where do I start?",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = do(t, r, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var msgs struct {
		Messages []chat.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, chat.RoleUser, msgs.Messages[0].Role)

	resp = do(t, r, http.MethodGet, "/conversations?userId=u1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Conversations []chat.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)

	resp = do(t, r, http.MethodGet, "/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = do(t, r, http.MethodDelete, "/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = do(t, r, http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestConversationsErrors(t *testing.T) {
	r := setupRouter()

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/conversations", map[string]string{}).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/conversations", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/conversations/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/conversations/nope", nil).Code)

	resp := do(t, r, http.MethodPost, "/conversations", map[string]string{"userId": "u1"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var conv chat.Conversation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &conv))

	resp = do(t, r, http.MethodPost, "/conversations/"+conv.ID+"/messages", map[string]string{"role": "system", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = do(t, r, http.MethodPost, "/conversations/"+conv.ID+"/messages", map[string]string{"role": "user"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
