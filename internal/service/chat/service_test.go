package chat_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	chat "github.com/zhouzirui/career-counsel/backend/internal/service/chat"
)

func stores(t *testing.T) map[string]chat.Store {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]chat.Store{
		"memory": chat.NewMemoryStore(),
		"redis":  chat.NewRedisStoreWithClient(client, "test:"),
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "How do I switch careers?", chat.Title("  How do I switch careers?  "))

	long := strings.Repeat("a", 60)
	assert.Equal(t, strings.Repeat("a", 50)+"...", chat.Title(long))

	exact := strings.Repeat("职", 50)
	assert.Equal(t, exact, chat.Title(exact))
	assert.Equal(t, exact+"...", chat.Title(exact+"业"))
}

func TestService_ConversationLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := chat.NewService(store)
			defer svc.Close()
			ctx := context.Background()

			first, err := svc.CreateConversation(ctx, "user-1", "Help me prepare for a product manager interview at a fintech startup")
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(first.Title, "..."))

			second, err := svc.CreateConversation(ctx, "user-1", "Resume review")
			require.NoError(t, err)
			_, err = svc.CreateConversation(ctx, "user-2", "Other user")
			require.NoError(t, err)

			_, err = svc.SaveMessage(ctx, model.Message{
				ConversationID: first.ID,
				UserID:         "user-1",
				Role:           model.RoleUser,
				Content:        "hello",
				CreatedAt:      time.Now().UTC().Add(time.Minute),
			})
			require.NoError(t, err)
			_, err = svc.SaveMessage(ctx, model.Message{
				ConversationID: first.ID,
				UserID:         "user-1",
				Role:           model.RoleAssistant,
				Content:        "Hi! What role are you targeting?",
				CreatedAt:      time.Now().UTC().Add(2 * time.Minute),
			})
			require.NoError(t, err)

			list, err := svc.ListConversations(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, first.ID, list[0].ID, "most recently updated first")
			assert.Equal(t, second.ID, list[1].ID)

			msgs, err := svc.LoadTranscript(ctx, first.ID)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, model.RoleUser, msgs[0].Role)
			assert.Equal(t, "Hi! What role are you targeting?", msgs[1].Content)
			assert.NotEmpty(t, msgs[0].ID)

			history, err := svc.History(ctx, first.ID, 1)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, model.RoleAssistant, history[0].Role)

			require.NoError(t, svc.DeleteConversation(ctx, first.ID))
			_, err = svc.GetConversation(ctx, first.ID)
			assert.ErrorIs(t, err, chat.ErrConversationNotFound)
			_, err = svc.LoadTranscript(ctx, first.ID)
			assert.ErrorIs(t, err, chat.ErrConversationNotFound)

			list, err = svc.ListConversations(ctx, "user-1")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestService_Validation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := chat.NewService(store)
			ctx := context.Background()

			_, err := svc.CreateConversation(ctx, "", "hi")
			assert.ErrorIs(t, err, chat.ErrUserRequired)

			conv, err := svc.CreateConversation(ctx, "u", "")
			require.NoError(t, err)
			assert.Equal(t, "New conversation", conv.Title)

			_, err = svc.SaveMessage(ctx, model.Message{ConversationID: conv.ID, Role: "system", Content: "x"})
			assert.ErrorIs(t, err, chat.ErrInvalidRole)

			_, err = svc.SaveMessage(ctx, model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: "  "})
			assert.ErrorIs(t, err, chat.ErrEmptyContent)

			_, err = svc.SaveMessage(ctx, model.Message{ConversationID: "missing", Role: model.RoleUser, Content: "x"})
			assert.ErrorIs(t, err, chat.ErrConversationNotFound)

			assert.ErrorIs(t, svc.DeleteConversation(ctx, "missing"), chat.ErrConversationNotFound)

			_, err = svc.ListConversations(ctx, "")
			assert.ErrorIs(t, err, chat.ErrUserRequired)
		})
	}
}
