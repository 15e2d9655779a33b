package bot

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"confluencebot/internal/models"
)

// Clock - источник времени; в тестах подменяется
type Clock func() time.Time

// tryEnqueueNotification отправляет уведомление в канал с метриками переполнения.
// Возвращает true, если уведомление поставлено в очередь.
func tryEnqueueNotification(ch chan *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		RecordBufferBacklog("notification", cap(ch), len(ch))
		return false
	}
}

// tryEnqueueTick кладет цену в канал воркера. При полном канале
// вытесняется самый старый тик: выходы должны видеть последнюю цену.
// false - свежий тик не поместился (канал заново заполнили параллельно).
func tryEnqueueTick(ch chan float64, symbol string, price float64) bool {
	select {
	case ch <- price:
		return true
	default:
	}

	select {
	case <-ch:
		RecordTickDropped(symbol)
	default:
	}

	select {
	case ch <- price:
		return true
	default:
		RecordTickDropped(symbol)
		return false
	}
}

func newNotification(at time.Time, notifType, symbol, message string, meta map[string]interface{}) *models.Notification {
	if meta == nil {
		meta = make(map[string]interface{})
	}
	if _, ok := meta["event_id"]; !ok {
		meta["event_id"] = uuid.NewString()
	}
	return &models.Notification{
		Timestamp: at,
		Type:      notifType,
		Severity:  models.SeverityForType(notifType),
		Symbol:    symbol,
		Message:   message,
		Meta:      meta,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
