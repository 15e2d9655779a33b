package exchange

import (
	"fmt"
	"strings"

	"confluencebot/pkg/utils"
)

// VenueConfig - параметры создания площадки из конфигурации
type VenueConfig struct {
	Name  string
	Bybit BybitConfig
	Paper PaperConfig

	// PaperMarketData - брать котировки бумажной площадки с публичного API Bybit
	PaperMarketData bool
}

// NewVenue создает площадку исполнения по имени
func NewVenue(cfg VenueConfig, logger *utils.Logger) (Venue, error) {
	switch strings.ToLower(cfg.Name) {
	case "bybit":
		return NewBybit(cfg.Bybit, logger), nil
	case "paper":
		paper := cfg.Paper
		if cfg.PaperMarketData && paper.Market == nil {
			paper.Market = NewBybit(cfg.Bybit, logger)
		}
		return NewPaperVenue(paper, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, cfg.Name)
	}
}

