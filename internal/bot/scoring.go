package bot

import (
	"math"
	"time"

	"confluencebot/internal/models"
	"confluencebot/pkg/utils"
)

// FreshnessFunc отображает возраст самого свежего алерта пары в [0, 1]
type FreshnessFunc func(age time.Duration) float64

// LinearFreshness: 1.0 до freshFor, затем линейно до 0 в cutoff
func LinearFreshness(freshFor, cutoff time.Duration) FreshnessFunc {
	return func(age time.Duration) float64 {
		if age <= freshFor {
			return 1
		}
		if age >= cutoff || cutoff <= freshFor {
			return 0
		}
		return 1 - float64(age-freshFor)/float64(cutoff-freshFor)
	}
}

// ExponentialFreshness: 1.0 до freshFor, затем экспоненциальный спад
// с периодом полураспада halfLife
func ExponentialFreshness(freshFor, halfLife time.Duration) FreshnessFunc {
	return func(age time.Duration) float64 {
		if age <= freshFor {
			return 1
		}
		if halfLife <= 0 {
			return 0
		}
		return math.Pow(0.5, float64(age-freshFor)/float64(halfLife))
	}
}

// ScoreWeights - веса составляющих оценки
type ScoreWeights struct {
	Proximity float64 `yaml:"proximity"`
	Intensity float64 `yaml:"intensity"`
	Freshness float64 `yaml:"freshness"`
}

// DefaultScoreWeights - 0.4 / 0.3 / 0.3
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Proximity: 0.4, Intensity: 0.3, Freshness: 0.3}
}

// Sum возвращает сумму весов
func (w ScoreWeights) Sum() float64 {
	return w.Proximity + w.Intensity + w.Freshness
}

// DefaultIntensities - интенсивность hype-алертов
func DefaultIntensities() map[models.AlertType]float64 {
	return map[models.AlertType]float64{
		models.AlertHype:          0.8,
		models.AlertHypeIntensify: 1.0,
	}
}

// Proximity - близость пары во времени: 1 - gap/window в [0, 1]
func Proximity(gap, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	if gap < 0 {
		gap = -gap
	}
	p := 1 - float64(gap)/float64(window)
	return utils.Clamp(p, 0, 1)
}

// Score считает итоговую оценку и ограничивает ее [0, 1]
func (w ScoreWeights) Score(c models.ScoreComponents) float64 {
	s := w.Proximity*c.Proximity + w.Intensity*c.Intensity + w.Freshness*c.Freshness
	return utils.Clamp(s, 0, 1)
}
