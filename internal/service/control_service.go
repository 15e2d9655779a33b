package service

import (
	"context"
	"errors"
	"strings"

	"confluencebot/internal/bot"
	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// Ошибки операторского управления
var (
	ErrAlreadyHalted  = errors.New("trading already halted")
	ErrNoOpenPosition = errors.New("no open position for symbol")
)

// EngineController - операции движка, доступные оператору
type EngineController interface {
	RiskStateProvider
	Halt(reason string) bool
	Resume() bool
	ForceClose(ctx context.Context, symbol string) error
}

var _ EngineController = (*bot.Engine)(nil)

// ControlService - ручная остановка, возобновление и закрытие позиций
type ControlService struct {
	engine EngineController
	quote  string
	log    *utils.Logger
}

// NewControlService создает новый экземпляр ControlService
func NewControlService(engine EngineController, quoteAsset string, logger *utils.Logger) *ControlService {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &ControlService{engine: engine, quote: quoteAsset, log: logger.WithComponent("control")}
}

// RiskState возвращает снимок гейта
func (s *ControlService) RiskState() models.RiskState {
	return s.engine.RiskState()
}

// Halt останавливает торговлю; повторная остановка - ErrAlreadyHalted
func (s *ControlService) Halt(reason string) (bool, error) {
	reason = strings.TrimSpace(reason)
	if !s.engine.Halt(reason) {
		return false, ErrAlreadyHalted
	}
	s.log.Warn("trading halted by operator", utils.Reason(reason))
	return true, nil
}

// Resume снимает остановку; false - торговля и так шла
func (s *ControlService) Resume() bool {
	ok := s.engine.Resume()
	if ok {
		s.log.Info("trading resumed by operator")
	}
	return ok
}

// Positions возвращает живые позиции
func (s *ControlService) Positions() []*models.Position {
	positions := s.engine.Positions()
	if positions == nil {
		positions = []*models.Position{}
	}
	return positions
}

// ClosePosition закрывает позицию символа по рынку
func (s *ControlService) ClosePosition(ctx context.Context, symbol string) error {
	symbol = utils.NormalizeSymbolWithQuote(symbol, s.quote)
	if symbol == "" {
		return ErrSymbolEmpty
	}

	err := s.engine.ForceClose(ctx, symbol)
	if errors.Is(err, bot.ErrNoLivePosition) {
		return ErrNoOpenPosition
	}
	if err != nil {
		return err
	}
	s.log.Info("position closed by operator", utils.Symbol(symbol))
	return nil
}
