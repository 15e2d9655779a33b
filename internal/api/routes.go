package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"confluencebot/internal/api/handlers"
	"confluencebot/internal/api/middleware"
	"confluencebot/internal/service"
	"confluencebot/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers.
// Nil-зависимость отключает свою группу маршрутов.
type Dependencies struct {
	Alerts        handlers.AlertSubmitter
	Control       service.ControlServiceInterface
	Symbols       service.SymbolServiceInterface
	Notifications service.NotificationServiceInterface
	Stats         service.StatsServiceInterface
	Stream        http.Handler
	HealthChecks  map[string]handlers.HealthCheck

	// TokenHash - bcrypt-хеш токена оператора; пустой - без авторизации
	TokenHash      string
	AllowedOrigins []string
	AlertLimiter   *rate.Limiter
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── POST /alerts - прием алертов (rate limit)
//	├── /risk/
//	│   ├── GET / - снимок гейта
//	│   ├── POST /halt - ручная остановка
//	│   └── POST /resume - возобновление
//	├── /positions/
//	│   ├── GET / - живые позиции
//	│   └── POST /{symbol}/close - закрыть по рынку
//	├── /symbols/
//	│   ├── GET / - реестр
//	│   ├── PUT /{symbol} - категория и исключение
//	│   └── DELETE /{symbol} - удалить запись
//	├── /notifications/
//	│   ├── GET / - журнал
//	│   └── DELETE / - очистить
//	└── GET /stats - сводка по сделкам
//
// /ws/stream - WebSocket UI (тот же токен, допускается ?token=)
// /health, /metrics - без авторизации
//
// Middleware: CORS, Recovery, Logging для всех маршрутов;
// BearerAuth для /api/v1 и /ws.
func SetupRoutes(deps *Dependencies) http.Handler {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))

	auth := middleware.BearerAuth(deps.TokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Alerts != nil {
		h := handlers.NewAlertHandler(deps.Alerts)
		api.Handle("/alerts", middleware.RateLimit(deps.AlertLimiter)(http.HandlerFunc(h.SubmitAlerts))).Methods(http.MethodPost)
	}

	if deps.Control != nil {
		h := handlers.NewControlHandler(deps.Control)
		api.HandleFunc("/risk", h.GetRisk).Methods(http.MethodGet)
		api.HandleFunc("/risk/halt", h.Halt).Methods(http.MethodPost)
		api.HandleFunc("/risk/resume", h.Resume).Methods(http.MethodPost)
		api.HandleFunc("/positions", h.GetPositions).Methods(http.MethodGet)
		api.HandleFunc("/positions/{symbol}/close", h.ClosePosition).Methods(http.MethodPost)
	}

	if deps.Symbols != nil {
		h := handlers.NewSymbolHandler(deps.Symbols)
		api.HandleFunc("/symbols", h.GetSymbols).Methods(http.MethodGet)
		api.HandleFunc("/symbols/{symbol}", h.UpsertSymbol).Methods(http.MethodPut)
		api.HandleFunc("/symbols/{symbol}", h.RemoveSymbol).Methods(http.MethodDelete)
	}

	if deps.Notifications != nil {
		h := handlers.NewNotificationHandler(deps.Notifications)
		api.HandleFunc("/notifications", h.GetNotifications).Methods(http.MethodGet)
		api.HandleFunc("/notifications", h.ClearNotifications).Methods(http.MethodDelete)
	}

	if deps.Stats != nil {
		h := handlers.NewStatsHandler(deps.Stats)
		api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	}

	if deps.Stream != nil {
		router.Handle("/ws/stream", auth(deps.Stream)).Methods(http.MethodGet)
	}

	health := handlers.NewHealthHandler(deps.HealthChecks)
	router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// CORS снаружи mux: middleware роутера не видит preflight к маршрутам без OPTIONS
	return middleware.CORS(deps.AllowedOrigins)(router)
}
