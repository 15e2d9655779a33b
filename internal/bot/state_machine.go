package bot

import "confluencebot/internal/models"

// ValidTransitions определяет допустимые переходы жизненного цикла позиции.
// CLOSED и FAILED конечны: следующая сделка создает новую позицию.
var ValidTransitions = map[models.PositionState][]models.PositionState{
	models.PositionOpening:     {models.PositionOpen, models.PositionFailed},
	models.PositionOpen:        {models.PositionPartialExit, models.PositionClosed, models.PositionStale},
	models.PositionPartialExit: {models.PositionPartialExit, models.PositionClosed, models.PositionStale},
	models.PositionStale:       {models.PositionStale, models.PositionClosed}, // только ручное закрытие
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.PositionState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s models.PositionState) string {
	switch s {
	case models.PositionOpening:
		return "Открытие позиции..."
	case models.PositionOpen:
		return "Позиция открыта"
	case models.PositionPartialExit:
		return "Позиция частично закрыта"
	case models.PositionClosed:
		return "Позиция закрыта"
	case models.PositionFailed:
		return "Вход не исполнен"
	case models.PositionStale:
		return "Ошибка закрытия! Требуется вмешательство"
	default:
		return "Неизвестное состояние"
	}
}

// HasOpenPosition - есть ли у состояния объем на бирже
func HasOpenPosition(s models.PositionState) bool {
	return s == models.PositionOpen || s == models.PositionPartialExit || s == models.PositionStale
}
