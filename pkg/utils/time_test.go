package utils

import (
	"testing"
	"time"
)

func TestDayStartIn(t *testing.T) {
	shanghai := time.FixedZone("UTC+8", 8*3600)

	tests := []struct {
		name     string
		input    time.Time
		loc      *time.Location
		expected time.Time
	}{
		{
			name:     "utc midday",
			input:    time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC),
			loc:      time.UTC,
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "nil location is utc",
			input:    time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
			loc:      nil,
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			// 20:00 UTC 15 января - уже 16 января в UTC+8
			name:     "exchange day ahead of utc",
			input:    time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC),
			loc:      shanghai,
			expected: time.Date(2024, 1, 16, 0, 0, 0, 0, shanghai),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DayStartIn(tt.input, tt.loc)
			if !result.Equal(tt.expected) {
				t.Errorf("DayStartIn(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNextDayStartIn(t *testing.T) {
	now := time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC)
	expected := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	if result := NextDayStartIn(now, time.UTC); !result.Equal(expected) {
		t.Errorf("NextDayStartIn() = %v, want %v", result, expected)
	}
	if d := UntilNextDay(now, time.UTC); d != time.Minute {
		t.Errorf("UntilNextDay() = %v, want 1m", d)
	}
}

func TestTradingDay(t *testing.T) {
	ts := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)

	if day := TradingDay(ts, time.UTC); day != "2024-01-15" {
		t.Errorf("TradingDay(utc) = %s, want 2024-01-15", day)
	}
	if day := TradingDay(ts, time.FixedZone("UTC+8", 8*3600)); day != "2024-01-16" {
		t.Errorf("TradingDay(utc+8) = %s, want 2024-01-16", day)
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil || loc != time.UTC {
		t.Errorf("LoadLocation(\"\") = %v, %v; want UTC", loc, err)
	}
	if _, err := LoadLocation("Not/AZone"); err == nil {
		t.Error("LoadLocation(invalid) expected error")
	}
}

func TestFromUnixMillis(t *testing.T) {
	ts := FromUnixMillis(1705312245000)
	expected := time.Date(2024, 1, 15, 9, 50, 45, 0, time.UTC)
	if !ts.Equal(expected) {
		t.Errorf("FromUnixMillis() = %v, want %v", ts, expected)
	}
}

func BenchmarkDayStartIn(b *testing.B) {
	now := time.Now()
	for i := 0; i < b.N; i++ {
		DayStartIn(now, time.UTC)
	}
}
