package utils

import (
	"errors"
	"fmt"
	"strings"
)

// validator.go - валидация входных данных (символы, проценты, доли)

var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidPercentage = errors.New("percentage must be within [0, 100]")
	ErrInvalidFraction   = errors.New("fraction must be within (0, 1]")
	ErrInvalidStopLoss   = errors.New("stop loss must be within (0, 100]")
	ErrInvalidExchange   = errors.New("unsupported exchange")
)

// SupportedExchanges - поддерживаемые площадки исполнения
var SupportedExchanges = []string{"bybit", "paper"}

const (
	minSymbolLength = 2
	maxSymbolLength = 30
)

// ValidateSymbol проверяет формат символа (BTCUSDT, BTC-USDT, 1INCHUSDT)
func ValidateSymbol(symbol string) error {
	if len(symbol) < minSymbolLength || len(symbol) > maxSymbolLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSymbol, len(symbol))
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '/':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidSymbol, r)
		}
	}
	return nil
}

// NormalizeSymbol приводит символ к каноническому виду биржи (BTCUSDT)
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

// NormalizeSymbolWithQuote нормализует символ и дописывает котировку,
// если ее нет: "btc" -> "BTCUSDT"
func NormalizeSymbolWithQuote(symbol, quote string) string {
	s := NormalizeSymbol(symbol)
	q := strings.ToUpper(quote)
	if q != "" && s != "" && !strings.HasSuffix(s, q) {
		s += q
	}
	return s
}

// ValidatePercentage проверяет процент в диапазоне [0, 100]
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidPercentage, pct)
	}
	return nil
}

// ValidateFraction проверяет долю в диапазоне (0, 1]
func ValidateFraction(f float64) error {
	if f <= 0 || f > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFraction, f)
	}
	return nil
}

// ValidateStopLoss проверяет процент стоп-лосса в диапазоне (0, 100]
func ValidateStopLoss(sl float64) error {
	if sl <= 0 || sl > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidStopLoss, sl)
	}
	return nil
}

// NormalizeExchange приводит имя биржи к нижнему регистру
func NormalizeExchange(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateExchange проверяет что биржа поддерживается
func ValidateExchange(name string) error {
	if IsValidExchange(name) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidExchange, name)
}

// IsValidExchange - bool-вариант ValidateExchange
func IsValidExchange(name string) bool {
	n := NormalizeExchange(name)
	for _, e := range SupportedExchanges {
		if e == n {
			return true
		}
	}
	return false
}
