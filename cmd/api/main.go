package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/career-counsel/backend/internal/config"
	"github.com/zhouzirui/career-counsel/backend/internal/handler"
	"github.com/zhouzirui/career-counsel/backend/internal/metrics"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/realtime"
	"github.com/zhouzirui/career-counsel/backend/internal/service/ai"
	"github.com/zhouzirui/career-counsel/backend/internal/service/career"
	"github.com/zhouzirui/career-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/service/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
	"github.com/zhouzirui/career-counsel/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Server)
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Debug("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	m := metrics.New()

	// 会话存储：配置了 REDIS_URL 时使用 Redis
	var (
		store  chat.Store
		pinger handler.Pinger
	)
	if cfg.Store.RedisURL != "" {
		redisStore, err := chat.NewRedisStore(ctx, cfg.Store.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect conversation store", zap.Error(err))
		}
		store, pinger = redisStore, redisStore
		logger.Info("conversation store: redis")
	} else {
		store = chat.NewMemoryStore()
		logger.Info("conversation store: memory (REDIS_URL not set)")
	}
	chatService := chat.NewService(store)
	defer func() { _ = chatService.Close() }()

	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without text chat", zap.Error(err))
			aiService = nil
		} else {
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过文本对话初始化")
	}

	var (
		focusClassifier *focus.Service
		careerAdvisor   *career.Service
	)
	if aiService != nil {
		focusClassifier, err = focus.NewService(ctx, aiService.ChatModel(), focus.Config{
			Enabled:      cfg.AI.FocusLLMEnabled,
			HistoryLimit: cfg.AI.FocusHistoryLimit,
		}, logger)
		if err != nil {
			logger.Warn("failed to initialize focus classifier, using keyword rules", zap.Error(err))
			focusClassifier = nil
		}

		// 岗位推荐需要绑定函数，单独创建模型实例
		jobModel, err := cfg.AI.NewChatModel(ctx)
		if err == nil {
			careerAdvisor, err = career.NewService(ctx, aiService.ChatModel(), jobModel, logger)
		}
		if err != nil {
			logger.Warn("failed to initialize career advisor, resume and job endpoints disabled", zap.Error(err))
			careerAdvisor = nil
		}
	}

	var realtimeRelay *relay.Relay
	if cfg.Realtime.Enabled() {
		profile, err := realtime.LoadProfile(cfg.Realtime.ProfileFile)
		if err != nil {
			logger.Fatal("failed to load realtime profile", zap.Error(err))
		}
		dialer := relay.NewWebSocketDialer(relay.DialerOptions{
			URL:              cfg.Realtime.URL,
			APIKey:           cfg.Realtime.APIKey,
			HandshakeTimeout: cfg.Realtime.DialTimeout,
			MaxRetries:       cfg.Realtime.DialRetries,
		}, logger)
		realtimeRelay = relay.New(dialer, relay.Options{
			DialTimeout:  cfg.Realtime.DialTimeout,
			ReadyTimeout: cfg.Realtime.ReadyTimeout,
			Profile:      profile,
			InboundRate:  rate.Limit(cfg.Realtime.InboundRate),
			InboundBurst: cfg.Realtime.InboundBurst,
		}, m, logger)
		logger.Info("realtime relay enabled", zap.String("voice", profile.Voice))
	} else {
		logger.Info("OPENAI_API_KEY 未配置，跳过实时语音中继")
	}

	var transcriber *speech.Transcriber
	if cfg.Speech.Enabled() {
		transcriber = speech.NewTranscriber(cfg.Speech, nil, m, logger)
		logger.Info("speech transcription enabled", zap.String("model", cfg.Speech.Model))
	}

	router := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Chat:        chatService,
		AI:          aiService,
		Focus:       focusClassifier,
		Career:      careerAdvisor,
		Relay:       realtimeRelay,
		Transcriber: transcriber,
		Store:       pinger,
		Metrics:     m,
		Logger:      logger,
	})

	startServer(ctx, cfg.Server, router, logger)
}

// newLogger 开发环境输出彩色文本，其余环境输出 JSON。
func newLogger(cfg config.ServerConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Development() {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		log.Printf("failed to build logger, falling back to production defaults: %v", err)
		logger, _ = zap.NewProduction()
	}
	return logger.Named("career-counsel")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("career counsel backend listening", zap.String("addr", addr), zap.String("env", serverCfg.Env))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
