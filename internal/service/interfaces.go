package service

import (
	"context"
	"time"

	"confluencebot/internal/models"
	"confluencebot/internal/repository"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	GetByTypes(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	KeepRecent(ctx context.Context, keep int) (int64, error)
}

// SymbolRepositoryInterface определяет интерфейс реестра символов
type SymbolRepositoryInterface interface {
	Upsert(ctx context.Context, entry *models.SymbolEntry) error
	GetAll(ctx context.Context) ([]*models.SymbolEntry, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.SymbolEntry, error)
	Delete(ctx context.Context, symbol string) error
	Excluded(ctx context.Context) ([]string, error)
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error)
	Summary(ctx context.Context, from time.Time) (*models.TradeSummary, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ SymbolRepositoryInterface = (*repository.SymbolRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error)
	ClearNotifications(ctx context.Context) error
}

// SymbolServiceInterface определяет интерфейс реестра символов
type SymbolServiceInterface interface {
	List(ctx context.Context) ([]*models.SymbolEntry, error)
	Upsert(ctx context.Context, req UpsertSymbolRequest) (*models.SymbolEntry, error)
	Remove(ctx context.Context, symbol string) error
}

// StatsServiceInterface определяет интерфейс сервиса статистики
type StatsServiceInterface interface {
	GetStats(ctx context.Context) (*StatsResponse, error)
}

// ControlServiceInterface - операторское управление движком
type ControlServiceInterface interface {
	RiskState() models.RiskState
	Halt(reason string) (bool, error)
	Resume() bool
	Positions() []*models.Position
	ClosePosition(ctx context.Context, symbol string) error
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ SymbolServiceInterface = (*SymbolService)(nil)
var _ StatsServiceInterface = (*StatsService)(nil)
var _ ControlServiceInterface = (*ControlService)(nil)
