package service

import (
	"context"
	"time"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// RiskStateProvider - источник снимка риск-гейта и живых позиций
type RiskStateProvider interface {
	RiskState() models.RiskState
	Positions() []*models.Position
}

// StatsResponse - сводка для оператора
type StatsResponse struct {
	TradingDay    string                `json:"trading_day"`
	Today         *models.TradeSummary  `json:"today"`
	Week          *models.TradeSummary  `json:"week"`
	Month         *models.TradeSummary  `json:"month"`
	Risk          models.RiskState      `json:"risk"`
	OpenPositions int                   `json:"open_positions"`
	RecentTrades  []*models.TradeRecord `json:"recent_trades"`
}

// StatsService предоставляет статистику по закрытым сделкам.
//
// Периоды считаются от начала торгового дня в часовом поясе биржи:
// сегодня, последние 7 и 30 дней.
type StatsService struct {
	trades TradeRepositoryInterface
	engine RiskStateProvider
	loc    *time.Location
	now    func() time.Time
}

// NewStatsService создает новый экземпляр StatsService
func NewStatsService(trades TradeRepositoryInterface, engine RiskStateProvider, loc *time.Location) *StatsService {
	if loc == nil {
		loc = time.UTC
	}
	return &StatsService{trades: trades, engine: engine, loc: loc, now: time.Now}
}

// GetStats возвращает сводку за день, неделю и месяц
func (s *StatsService) GetStats(ctx context.Context) (*StatsResponse, error) {
	now := s.now()
	dayStart := utils.DayStartIn(now, s.loc)

	resp := &StatsResponse{TradingDay: utils.TradingDay(now, s.loc)}

	var err error
	if resp.Today, err = s.trades.Summary(ctx, dayStart); err != nil {
		return nil, err
	}
	if resp.Week, err = s.trades.Summary(ctx, dayStart.AddDate(0, 0, -6)); err != nil {
		return nil, err
	}
	if resp.Month, err = s.trades.Summary(ctx, dayStart.AddDate(0, 0, -29)); err != nil {
		return nil, err
	}
	if resp.RecentTrades, err = s.trades.GetRecent(ctx, 20); err != nil {
		return nil, err
	}
	if resp.RecentTrades == nil {
		resp.RecentTrades = []*models.TradeRecord{}
	}

	if s.engine != nil {
		resp.Risk = s.engine.RiskState()
		resp.OpenPositions = len(s.engine.Positions())
	}
	return resp, nil
}
