package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/career-counsel/backend/internal/config"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/career"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/realtime"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/speech"
	"github.com/zhouzirui/career-counsel/backend/internal/handler/stream"
	"github.com/zhouzirui/career-counsel/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/career-counsel/backend/internal/middleware"
	aiService "github.com/zhouzirui/career-counsel/backend/internal/service/ai"
	careerService "github.com/zhouzirui/career-counsel/backend/internal/service/career"
	chatService "github.com/zhouzirui/career-counsel/backend/internal/service/chat"
	focusService "github.com/zhouzirui/career-counsel/backend/internal/service/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
	speechService "github.com/zhouzirui/career-counsel/backend/internal/service/speech"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

// Pinger 可选的存储健康检查。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 路由依赖的服务，可选服务为 nil 时对应接口返回 503。
type Deps struct {
	Config      *config.Config
	Chat        *chatService.Service
	AI          *aiService.Service
	Focus       *focusService.Service
	Career      *careerService.Service
	Relay       *relay.Relay
	Transcriber *speechService.Transcriber
	Store       Pinger
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Observe(m, logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Config.Server.AllowedOrigins))

	r.Get("/healthz", healthHandler(deps))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// 可选服务以接口形式传入，nil 指针不能直接赋给接口。
	var generator stream.Generator
	if deps.AI != nil {
		generator = deps.AI
	}
	var classifier stream.FocusClassifier
	var detector focus.Classifier
	if deps.Focus != nil {
		classifier, detector = deps.Focus, deps.Focus
	}
	var advisor career.Advisor
	if deps.Career != nil {
		advisor = deps.Career
	}
	var transcriber speech.Transcriber
	if deps.Transcriber != nil && deps.Transcriber.Enabled() {
		transcriber = deps.Transcriber
	}

	chatHandler := chat.New(deps.Chat, logger)
	focusHandler := focus.New(detector)
	streamHandler := stream.New(generator, deps.Chat, stream.Options{
		Model:      deps.Config.AI.Model,
		RateLimit:  rate.Limit(deps.Config.Chat.RateLimit),
		RateBurst:  deps.Config.Chat.RateBurst,
		Classifier: classifier,
	}, m, logger)
	careerHandler := career.New(advisor, logger)
	speechHandler := speech.New(transcriber, logger)
	realtimeHandler := realtime.New(deps.Relay, deps.Config.Server.AllowedOrigins, logger)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		focusHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		realtimeHandler.RegisterRoutes(api)
		careerHandler.RegisterRoutes(api)
	})

	return r
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":   "ok",
			"chat":     deps.AI != nil,
			"realtime": deps.Relay != nil,
			"speech":   deps.Transcriber != nil && deps.Transcriber.Enabled(),
			"career":   deps.Career != nil,
		}

		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["store"] = err.Error()
				_ = utils.RespondJSON(w, http.StatusServiceUnavailable, status)
				return
			}
			status["store"] = "ok"
		}

		_ = utils.RespondJSON(w, http.StatusOK, status)
	}
}
