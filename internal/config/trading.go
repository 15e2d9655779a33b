package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"confluencebot/internal/bot"
	"confluencebot/internal/exchange"
	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// TradingConfig - торговые параметры из YAML (TRADING_CONFIG_PATH)
type TradingConfig struct {
	Matcher  MatcherSettings  `yaml:"matcher"`
	Risk     RiskSettings     `yaml:"risk"`
	Position PositionSettings `yaml:"position"`

	// Symbols - начальные категории и исключения реестра символов
	Symbols []SymbolSettings `yaml:"symbols"`
}

// MatcherSettings - окно, порог и веса оценки
type MatcherSettings struct {
	WindowSeconds int                `yaml:"window_seconds"`
	MinScore      float64            `yaml:"min_score"`
	Weights       bot.ScoreWeights   `yaml:"weights"`
	Intensities   map[string]float64 `yaml:"intensities"`
	Freshness     FreshnessSettings  `yaml:"freshness"`
	MaxBuffered   int                `yaml:"max_buffered"`
}

// FreshnessSettings - функция свежести пары
type FreshnessSettings struct {
	Mode            string `yaml:"mode"` // linear, exponential
	FreshForMinutes int    `yaml:"fresh_for_minutes"`
	CutoffMinutes   int    `yaml:"cutoff_minutes"`
	HalfLifeMinutes int    `yaml:"half_life_minutes"`
}

// RiskSettings - лимиты риск-гейта в процентах от equity
type RiskSettings struct {
	MaxDailyTrades          int                `yaml:"max_daily_trades"`
	MaxDailyLossPercent     float64            `yaml:"max_daily_loss_percent"`
	PerSymbolCapPercent     float64            `yaml:"per_symbol_cap_percent"`
	CategoryCapPercent      map[string]float64 `yaml:"category_cap_percent"`
	TotalExposureCapPercent float64            `yaml:"total_exposure_cap_percent"`
	MinSizingPercent        float64            `yaml:"min_sizing_percent"`
	Exclusions              []string           `yaml:"exclusions"`
}

// PositionSettings - правила выхода
type PositionSettings struct {
	StopLossPercent           float64                  `yaml:"stop_loss_percent"`
	TakeProfitLevels          []models.TakeProfitLevel `yaml:"take_profit_levels"`
	TrailingActivationPercent float64                  `yaml:"trailing_activation_percent"`
	TrailingCallbackPercent   float64                  `yaml:"trailing_callback_percent"`
	ExitOrderType             string                   `yaml:"exit_order_type"`
}

// SymbolSettings - запись реестра символов
type SymbolSettings struct {
	Symbol   string `yaml:"symbol"`
	Category string `yaml:"category"`
	Excluded bool   `yaml:"excluded"`
	Reason   string `yaml:"reason"`
}

// DefaultTradingConfig возвращает значения по умолчанию
func DefaultTradingConfig() TradingConfig {
	risk := bot.DefaultRiskConfig()
	pos := bot.DefaultPositionConfig()
	return TradingConfig{
		Matcher: MatcherSettings{
			WindowSeconds: 300,
			MinScore:      0.6,
			Weights:       bot.DefaultScoreWeights(),
			Freshness: FreshnessSettings{
				Mode:            "linear",
				FreshForMinutes: 60,
				CutoffMinutes:   240,
				HalfLifeMinutes: 60,
			},
			MaxBuffered: 64,
		},
		Risk: RiskSettings{
			MaxDailyTrades:          risk.MaxDailyTrades,
			MaxDailyLossPercent:     risk.MaxDailyLossPercent,
			PerSymbolCapPercent:     risk.PerSymbolCapPercent,
			CategoryCapPercent:      risk.CategoryCapPercent,
			TotalExposureCapPercent: risk.TotalExposureCapPercent,
		},
		Position: PositionSettings{
			StopLossPercent:         pos.StopLossPercent,
			TakeProfitLevels:        pos.TakeProfitLevels,
			TrailingCallbackPercent: pos.TrailingCallbackPercent,
			ExitOrderType:           pos.ExitOrderType,
		},
	}
}

// LoadTradingFile читает YAML поверх значений по умолчанию
func LoadTradingFile(path string) (TradingConfig, error) {
	cfg := DefaultTradingConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read trading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse trading config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет торговые параметры
func (t TradingConfig) Validate() error {
	var errs []error
	m := t.Matcher
	if m.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("matcher.window_seconds must be positive, got %d", m.WindowSeconds))
	}
	if m.MinScore < 0 || m.MinScore > 1 {
		errs = append(errs, fmt.Errorf("matcher.min_score must be in [0, 1], got %v", m.MinScore))
	}
	if w := m.Weights; w.Proximity < 0 || w.Intensity < 0 || w.Freshness < 0 || math.Abs(w.Sum()-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("matcher.weights must be non-negative and sum to 1, got %.4f", w.Sum()))
	}
	for typ, v := range m.Intensities {
		if models.AlertType(strings.ToUpper(typ)).Role() != models.RoleHype {
			errs = append(errs, fmt.Errorf("matcher.intensities: %s is not a hype alert type", typ))
		}
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("matcher.intensities.%s must be in [0, 1], got %v", typ, v))
		}
	}
	switch m.Freshness.Mode {
	case "linear":
		if m.Freshness.CutoffMinutes <= m.Freshness.FreshForMinutes {
			errs = append(errs, errors.New("matcher.freshness.cutoff_minutes must exceed fresh_for_minutes"))
		}
	case "exponential":
		if m.Freshness.HalfLifeMinutes <= 0 {
			errs = append(errs, errors.New("matcher.freshness.half_life_minutes must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("matcher.freshness.mode must be linear or exponential, got %q", m.Freshness.Mode))
	}

	r := t.Risk
	if r.MaxDailyTrades <= 0 {
		errs = append(errs, fmt.Errorf("risk.max_daily_trades must be positive, got %d", r.MaxDailyTrades))
	}
	if err := utils.ValidatePercentage(r.MaxDailyLossPercent); err != nil || r.MaxDailyLossPercent == 0 {
		errs = append(errs, fmt.Errorf("risk.max_daily_loss_percent must be in (0, 100], got %v", r.MaxDailyLossPercent))
	}
	if r.PerSymbolCapPercent <= 0 || r.PerSymbolCapPercent > r.TotalExposureCapPercent {
		errs = append(errs, fmt.Errorf("risk.per_symbol_cap_percent must be in (0, total_exposure_cap_percent], got %v", r.PerSymbolCapPercent))
	}
	for cat, capPct := range r.CategoryCapPercent {
		if capPct < r.PerSymbolCapPercent || capPct > r.TotalExposureCapPercent {
			errs = append(errs, fmt.Errorf("risk.category_cap_percent.%s must be between per-symbol and total caps, got %v", cat, capPct))
		}
	}
	if r.MinSizingPercent < 0 || r.MinSizingPercent > r.PerSymbolCapPercent {
		errs = append(errs, fmt.Errorf("risk.min_sizing_percent must be in [0, per_symbol_cap_percent], got %v", r.MinSizingPercent))
	}

	p := t.Position
	if err := utils.ValidateStopLoss(p.StopLossPercent); err != nil {
		errs = append(errs, fmt.Errorf("position.stop_loss_percent: %w", err))
	}
	sum := 0.0
	for i, lvl := range p.TakeProfitLevels {
		if lvl.TriggerPercent <= 0 {
			errs = append(errs, fmt.Errorf("position.take_profit_levels[%d].trigger_percent must be positive", i))
		}
		if err := utils.ValidateFraction(lvl.CloseFraction); err != nil {
			errs = append(errs, fmt.Errorf("position.take_profit_levels[%d].close_fraction: %w", i, err))
		}
		sum += lvl.CloseFraction
	}
	if sum > 1+1e-9 {
		errs = append(errs, fmt.Errorf("position.take_profit_levels fractions sum to %.2f, must not exceed 1", sum))
	}
	if p.TrailingActivationPercent < 0 || p.TrailingCallbackPercent < 0 {
		errs = append(errs, errors.New("position.trailing values cannot be negative"))
	}
	if p.TrailingActivationPercent > 0 && p.TrailingCallbackPercent <= 0 {
		errs = append(errs, errors.New("position.trailing_callback_percent is required when trailing is enabled"))
	}
	switch p.ExitOrderType {
	case exchange.OrderTypeMarket, exchange.OrderTypeLimit:
	default:
		errs = append(errs, fmt.Errorf("position.exit_order_type must be market or limit, got %q", p.ExitOrderType))
	}

	for i, s := range t.Symbols {
		if err := utils.ValidateSymbol(strings.TrimSpace(s.Symbol)); err != nil {
			errs = append(errs, fmt.Errorf("symbols[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// MatcherConfig строит конфигурацию матчера
func (t TradingConfig) MatcherConfig() bot.MatcherConfig {
	m := t.Matcher
	cfg := bot.DefaultMatcherConfig()
	cfg.Window = time.Duration(m.WindowSeconds) * time.Second
	cfg.MinScore = m.MinScore
	cfg.Weights = m.Weights
	if m.MaxBuffered > 0 {
		cfg.MaxBuffered = m.MaxBuffered
	}
	for typ, v := range m.Intensities {
		cfg.Intensities[models.AlertType(strings.ToUpper(typ))] = v
	}

	freshFor := time.Duration(m.Freshness.FreshForMinutes) * time.Minute
	if m.Freshness.Mode == "exponential" {
		cfg.Freshness = bot.ExponentialFreshness(freshFor, time.Duration(m.Freshness.HalfLifeMinutes)*time.Minute)
	} else {
		cfg.Freshness = bot.LinearFreshness(freshFor, time.Duration(m.Freshness.CutoffMinutes)*time.Minute)
	}
	return cfg
}

// RiskConfig строит конфигурацию гейта
func (t TradingConfig) RiskConfig(loc *time.Location) bot.RiskConfig {
	r := t.Risk
	categories := make(map[string]string)
	for _, s := range t.Symbols {
		if s.Category != "" {
			categories[s.Symbol] = strings.ToLower(s.Category)
		}
	}
	return bot.RiskConfig{
		MaxDailyTrades:          r.MaxDailyTrades,
		MaxDailyLossPercent:     r.MaxDailyLossPercent,
		PerSymbolCapPercent:     r.PerSymbolCapPercent,
		CategoryCapPercent:      r.CategoryCapPercent,
		TotalExposureCapPercent: r.TotalExposureCapPercent,
		MinSizingPercent:        r.MinSizingPercent,
		Exclusions:              r.Exclusions,
		Categories:              categories,
		Location:                loc,
	}
}

// PositionConfig строит правила выхода; тайминги берутся из окружения
func (t TradingConfig) PositionConfig(engine EngineConfig) bot.PositionConfig {
	p := t.Position
	cfg := bot.DefaultPositionConfig()
	cfg.StopLossPercent = p.StopLossPercent
	cfg.TakeProfitLevels = append([]models.TakeProfitLevel(nil), p.TakeProfitLevels...)
	cfg.TrailingActivationPercent = p.TrailingActivationPercent
	cfg.TrailingCallbackPercent = p.TrailingCallbackPercent
	cfg.ExitOrderType = p.ExitOrderType
	cfg.EntryTimeout = engine.EntryTimeout
	cfg.PersistInterval = engine.PersistInterval
	return cfg
}
