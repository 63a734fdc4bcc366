package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

// ChatTransport 以流式响应体返回文本回复，响应体是 "data: " 行组成的事件流。
type ChatTransport interface {
	Stream(ctx context.Context, turns []chat.Turn) (io.ReadCloser, error)
}

// ChatClient 调用 /api/chat/completions。
type ChatClient struct {
	url    string
	client *http.Client
	header http.Header
	focus  string
	userID string

	mu             sync.Mutex
	conversationID string
}

// ChatClientOption 配置 ChatClient。
type ChatClientOption func(*ChatClient)

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(c *http.Client) ChatClientOption {
	return func(cc *ChatClient) { cc.client = c }
}

// WithHeader 附加请求头，例如鉴权信息。
func WithHeader(key, value string) ChatClientOption {
	return func(cc *ChatClient) { cc.header.Set(key, value) }
}

// WithFocus 指定对话侧重点。
func WithFocus(focus string) ChatClientOption {
	return func(cc *ChatClient) { cc.focus = focus }
}

// WithConversation 让服务端把消息保存到指定用户的会话中。
func WithConversation(userID, conversationID string) ChatClientOption {
	return func(cc *ChatClient) {
		cc.userID = userID
		cc.conversationID = conversationID
	}
}

// NewChatClient 创建文本通道客户端。
func NewChatClient(url string, opts ...ChatClientOption) *ChatClient {
	c := &ChatClient{
		url:    url,
		client: http.DefaultClient,
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConversationID 服务端分配或调用方指定的会话 ID。
func (c *ChatClient) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

type completionRequest struct {
	Messages       []chat.Turn `json:"messages"`
	Focus          string      `json:"focus,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	UserID         string      `json:"userId,omitempty"`
}

// Stream 提交完整历史，非 2xx 响应映射为 RateLimitError / QuotaError / UpstreamError。
func (c *ChatClient) Stream(ctx context.Context, turns []chat.Turn) (io.ReadCloser, error) {
	body, err := json.Marshal(completionRequest{
		Messages:       turns,
		Focus:          c.focus,
		ConversationID: c.ConversationID(),
		UserID:         c.userID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "chat request", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return nil, classifyStatus(resp.StatusCode, payload.Code, payload.Error)
	}

	if id := resp.Header.Get("X-Conversation-Id"); id != "" {
		c.mu.Lock()
		c.conversationID = id
		c.mu.Unlock()
	}
	return resp.Body, nil
}
