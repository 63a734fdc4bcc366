// voicetester 从命令行驱动一次语音或文本对话，用于联调 /api/realtime 与 /api/chat/completions。
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
	"github.com/zhouzirui/career-counsel/backend/internal/service/conversation"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: voice 或 text")
	server := flag.String("server", "http://localhost:8080", "后端地址")
	audioPath := flag.String("audio", "", "voice 模式输入的 WAV 文件")
	outputPath := flag.String("out", "reply.wav", "voice 模式助手语音的输出文件")
	text := flag.String("text", "", "text 模式发送的消息")
	focus := flag.String("focus", "general", "对话侧重点: general / interview / resume / career-path")
	user := flag.String("user", "", "text 模式保存会话所用的用户 ID，留空则不保存")
	timeout := flag.Duration("timeout", 60*time.Second, "整体超时时间")
	verbose := flag.Bool("v", false, "输出会话管理器的调试日志")

	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "voice":
		if *audioPath == "" {
			log.Fatal("voice 模式需要 -audio 指定输入文件")
		}
		runVoice(ctx, *server, *audioPath, *outputPath, logger)
	case "text":
		if strings.TrimSpace(*text) == "" {
			log.Fatal("text 模式需要 -text 指定消息内容")
		}
		runText(ctx, *server, *text, *focus, *user, logger)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=voice 或 -mode=text 指定测试模式")
	}
}

func runVoice(ctx context.Context, server, audioPath, outputPath string, logger *zap.Logger) {
	wsURL, err := realtimeURL(server)
	if err != nil {
		log.Fatalf("后端地址无效: %v", err)
	}

	sink := &audio.WAVFileSink{Path: outputPath, Realtime: true}
	mgr := conversation.NewManager(conversation.Options{
		Device: &audio.WAVFileDevice{Path: audioPath, Realtime: true, TrailingSilence: time.Second},
		Sink:   sink,
		Dialer: relay.NewWebSocketDialer(relay.DialerOptions{URL: wsURL, MaxRetries: 2}, logger),
		Logger: logger,
	})

	replied := make(chan struct{}, 1)
	mgr.Subscribe(func(ev conversation.Event) {
		switch ev.Kind {
		case conversation.EventMessageAppended:
			log.Printf("[%s] %s", ev.Message.Role, ev.Message.Content)
			if ev.Message.Role == chat.RoleAssistant {
				select {
				case replied <- struct{}{}:
				default:
				}
			}
		case conversation.EventStateChanged:
			log.Printf("[INFO] 会话状态: %s", ev.State)
		case conversation.EventError:
			log.Printf("[WARN] %v", ev.Err)
		}
	})

	session, err := mgr.StartSession(ctx)
	if err != nil {
		log.Fatalf("建立语音会话失败: %v", err)
	}

	select {
	case <-replied:
		// 等待剩余音频播完
		for session.Speaking() && ctx.Err() == nil {
			time.Sleep(100 * time.Millisecond)
		}
	case <-session.Done():
		log.Print("[WARN] 会话在收到回复前关闭")
	case <-ctx.Done():
		log.Print("[WARN] 等待回复超时")
	}
	mgr.StopSession()

	if err := sink.Close(); err != nil {
		log.Fatalf("写出音频失败: %v", err)
	}
	log.Printf("[INFO] 已发送 %d/%d 个音频块，回复音频写入 %s",
		session.SentChunks(), session.CapturedChunks(), outputPath)
}

func runText(ctx context.Context, server, text, focus, user string, logger *zap.Logger) {
	endpoint, err := url.JoinPath(server, "/api/chat/completions")
	if err != nil {
		log.Fatalf("后端地址无效: %v", err)
	}

	opts := []conversation.ChatClientOption{conversation.WithFocus(focus)}
	if user != "" {
		opts = append(opts, conversation.WithConversation(user, ""))
	}
	client := conversation.NewChatClient(endpoint, opts...)
	mgr := conversation.NewManager(conversation.Options{Chat: client, Logger: logger})

	start := time.Now()
	msg, err := mgr.SendTextMessage(ctx, text)
	if err != nil {
		var rl *conversation.RateLimitError
		if errors.As(err, &rl) {
			log.Fatalf("请求被限流，请稍后重试: %v", err)
		}
		log.Fatalf("文本对话失败: %v", err)
	}

	log.Printf("[assistant] %s", msg.Content)
	if id := client.ConversationID(); id != "" {
		log.Printf("[INFO] 会话 ID: %s", id)
	}
	log.Printf("[INFO] 耗时 %s", time.Since(start).Round(time.Millisecond))
}

// realtimeURL 把 http(s) 地址转换为 /api/realtime 的 ws(s) 地址。
func realtimeURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/realtime"
	return u.String(), nil
}
