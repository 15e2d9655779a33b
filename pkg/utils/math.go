package utils

import "math"

// math.go - ценовая арифметика позиций
//
// Все проценты выражены в процентах (3 = 3%), а не в долях.
// Сравнения с порогами идут через ReachedThreshold с допуском
// PercentEpsilon: (97-100)/100*100 в float64 может дать -2.9999999999999996.

// PercentEpsilon - допуск при сравнении процентов с порогами
const PercentEpsilon = 1e-9

// MovePercent возвращает движение цены в пользу позиции в процентах.
// Положительное значение - прибыль, отрицательное - убыток.
//
// Пример:
//
//	MovePercent("long", 100, 105)  // 5
//	MovePercent("short", 100, 105) // -5
func MovePercent(side string, entryPrice, price float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	move := (price - entryPrice) * 100 / entryPrice
	switch side {
	case "long":
		return move
	case "short":
		return -move
	default:
		return 0
	}
}

// RetracePercent возвращает откат цены от пика против позиции в процентах.
// Для long пик - максимум, для short - минимум. Отрицательный откат = 0.
func RetracePercent(side string, peakPrice, price float64) float64 {
	if peakPrice <= 0 {
		return 0
	}
	var r float64
	switch side {
	case "long":
		r = (peakPrice - price) * 100 / peakPrice
	case "short":
		r = (price - peakPrice) * 100 / peakPrice
	}
	return math.Max(r, 0)
}

// PriceAtPercent возвращает цену, при которой движение в пользу позиции
// равно pct процентам (отрицательный pct - цена стоп-лосса).
func PriceAtPercent(side string, entryPrice, pct float64) float64 {
	switch side {
	case "long":
		return entryPrice * (100 + pct) / 100
	case "short":
		return entryPrice * (100 - pct) / 100
	default:
		return entryPrice
	}
}

// IsMoreFavorable - лучше ли цена candidate чем current для позиции
func IsMoreFavorable(side string, candidate, current float64) bool {
	if side == "short" {
		return candidate < current
	}
	return candidate > current
}

// ReachedThreshold - value >= threshold с учетом PercentEpsilon
func ReachedThreshold(value, threshold float64) bool {
	return value >= threshold-PercentEpsilon
}

// CalculatePNL рассчитывает PNL в валюте котировки
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	switch side {
	case "long":
		return (currentPrice - entryPrice) * quantity
	case "short":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// Clamp ограничивает значение диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
