package utils

import (
	"time"
)

// time.go - границы торгового дня
//
// Дневные лимиты риск-гейта сбрасываются по календарному дню биржи,
// поэтому все функции принимают *time.Location. nil означает UTC.

// TradingDayLayout - формат ключа торгового дня
const TradingDayLayout = "2006-01-02"

func locOrUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// DayStartIn возвращает начало дня (00:00:00) для t в локации loc
//
// Пример:
//
//	// t: 2024-01-15 02:30 UTC, loc: Asia/Shanghai (UTC+8)
//	DayStartIn(t, loc) // 2024-01-15 00:00 +08:00
func DayStartIn(t time.Time, loc *time.Location) time.Time {
	t = t.In(locOrUTC(loc))
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextDayStartIn возвращает начало следующего дня в локации loc.
// AddDate корректно обрабатывает переходы на летнее время.
func NextDayStartIn(t time.Time, loc *time.Location) time.Time {
	return DayStartIn(t, loc).AddDate(0, 0, 1)
}

// TradingDay возвращает ключ торгового дня (YYYY-MM-DD) для t в локации loc
func TradingDay(t time.Time, loc *time.Location) string {
	return t.In(locOrUTC(loc)).Format(TradingDayLayout)
}

// UntilNextDay - сколько осталось до следующего сброса
func UntilNextDay(now time.Time, loc *time.Location) time.Duration {
	return NextDayStartIn(now, loc).Sub(now)
}

// LoadLocation загружает локацию по имени, пустое имя - UTC
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
