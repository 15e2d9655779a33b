// Package notify доставляет уведомления во внешние каналы (мобильный push, чат).
package notify

import (
	"context"
	"fmt"
	"strings"

	"confluencebot/internal/models"
)

// Pusher - внешний канал доставки уведомлений
type Pusher interface {
	Name() string
	Push(ctx context.Context, n *models.Notification) error
}

// SeverityRank упорядочивает уровни важности: info < warn < error
func SeverityRank(severity string) int {
	switch strings.ToLower(severity) {
	case models.SeverityError:
		return 2
	case models.SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Title - короткий заголовок для push
func Title(n *models.Notification) string {
	if n.Symbol == "" {
		return n.Type
	}
	return fmt.Sprintf("%s %s", n.Type, n.Symbol)
}

// Data переводит meta в строковую карту (FCM принимает только строки)
func Data(n *models.Notification) map[string]string {
	data := make(map[string]string, len(n.Meta)+3)
	for k, v := range n.Meta {
		data[k] = fmt.Sprint(v)
	}
	data["type"] = n.Type
	data["severity"] = n.Severity
	if n.Symbol != "" {
		data["symbol"] = n.Symbol
	}
	return data
}
