package models

import "time"

// ScoreComponents - составляющие оценки конфлюенции
type ScoreComponents struct {
	Proximity float64 `json:"proximity"`
	Intensity float64 `json:"intensity"`
	Freshness float64 `json:"freshness"`
}

// TradeCandidate - кандидат на сделку, полученный из пары алертов.
//
// PrimaryAlert всегда hype-алерт, SecondaryAlert - flow-алерт,
// задающий направление (Side).
type TradeCandidate struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	PrimaryAlert   Alert           `json:"primary_alert"`
	SecondaryAlert Alert           `json:"secondary_alert"`
	Score          float64         `json:"score"`
	Components     ScoreComponents `json:"components"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Gap возвращает расстояние во времени между алертами пары
func (c *TradeCandidate) Gap() time.Duration {
	d := c.SecondaryAlert.Timestamp.Sub(c.PrimaryAlert.Timestamp)
	if d < 0 {
		return -d
	}
	return d
}
