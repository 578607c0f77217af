package bot

import "sentinel/internal/models"

// tryEnqueueNotification отправляет уведомление в канал без блокировки.
// Возвращает true, если уведомление поставлено в очередь; переполнение
// считается метрикой и никогда не задерживает торговый путь.
func tryEnqueueNotification(ch chan *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		NotificationOverflow.Inc()
		return false
	}
}
