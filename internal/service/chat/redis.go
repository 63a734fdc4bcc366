package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

const defaultKeyPrefix = "career:"

// RedisStore 基于 Redis 的持久化实现。
//
// 会话以 JSON 字符串保存，用户的会话索引为按更新时间排序的 ZSET，
// 消息按追加顺序保存在 LIST 中。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore 通过 redis:// URL 连接并验证可用性。
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, defaultKeyPrefix), nil
}

// NewRedisStoreWithClient 复用已有的客户端。
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) conversationKey(id string) string {
	return s.keyPrefix + "conv:" + id
}

func (s *RedisStore) messagesKey(id string) string {
	return s.keyPrefix + "conv:" + id + ":msgs"
}

func (s *RedisStore) userKey(userID string) string {
	return s.keyPrefix + "user:" + userID + ":convs"
}

func (s *RedisStore) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.conversationKey(conv.ID), data, 0)
		pipe.ZAdd(ctx, s.userKey(conv.UserID), redis.Z{
			Score:  float64(conv.UpdatedAt.UnixNano()),
			Member: conv.ID,
		})
		return nil
	})
	return err
}

func (s *RedisStore) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	data, err := s.client.Get(ctx, s.conversationKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, err
	}

	var conv chat.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return chat.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStore) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]chat.Conversation, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.conversationKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var conv chat.Conversation
		if err := json.Unmarshal([]byte(raw), &conv); err != nil {
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

func (s *RedisStore) DeleteConversation(ctx context.Context, id string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.conversationKey(id), s.messagesKey(id))
		pipe.ZRem(ctx, s.userKey(conv.UserID), id)
		return nil
	})
	return err
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg chat.Message) error {
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	touch(&conv, msg.CreatedAt)

	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	convData, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.messagesKey(conv.ID), msgData)
		pipe.Set(ctx, s.conversationKey(conv.ID), convData, 0)
		pipe.ZAdd(ctx, s.userKey(conv.UserID), redis.Z{
			Score:  float64(conv.UpdatedAt.UnixNano()),
			Member: conv.ID,
		})
		return nil
	})
	return err
}

func (s *RedisStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	exists, err := s.client.Exists(ctx, s.conversationKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrConversationNotFound
	}

	raws, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, 0, len(raws))
	for _, raw := range raws {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping 检查连接是否可用。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
