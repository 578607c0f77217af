package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sentinel/internal/models"
	"sentinel/pkg/utils"
)

var hubJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями.
//
// Центральная точка broadcast для наблюдательного UI: состояние
// планировщика, снимки индикаторов, решения риск-менеджера, обвалы
// и события жизненного цикла позиций уходят всем подключённым
// клиентам без polling.
//
// Медленный клиент не тормозит остальных: переполненный буфер
// отправки отключает клиента, переполненный broadcast-канал
// отбрасывает сообщение (UI переживёт пропуск, торговый цикл -
// блокировку нет).
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	// Счётчик отброшенных сообщений при переполненном канале
	dropped atomic.Int64

	clientCount atomic.Int32

	logger *utils.Logger

	mu sync.RWMutex
}

// NewHub создаёт новый Hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.InitLogger(utils.LogConfig{Level: "error"})
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run запускает главный цикл Hub. Запускается в отдельной горутине,
// возвращается после Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.clientCount.Store(int32(len(h.clients)))
			h.mu.Unlock()
			h.logger.Debug("websocket client connected",
				utils.Int("clients", int(h.clientCount.Load())))

		case client := <-h.unregister:
			h.removeClients([]*Client{client})

		case message := <-h.broadcast:
			// Список клиентов копируется под коротким RLock, отправка
			// идёт без блокировки
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}
			h.removeClients(toRemove)
		}
	}
}

// Stop останавливает цикл Hub и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// removeClients удаляет клиентов и закрывает их каналы отправки
func (h *Hub) removeClients(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mu.Lock()
	removed := 0
	for _, client := range clients {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			removed++
		}
	}
	h.clientCount.Store(int32(len(h.clients)))
	h.mu.Unlock()

	if removed > 0 {
		h.logger.Debug("websocket clients removed",
			utils.Int("removed", removed),
			utils.Int("clients", int(h.clientCount.Load())))
	}
}

// closeAll закрывает все клиентские каналы при остановке
func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.clientCount.Store(0)
	h.mu.Unlock()
}

// Broadcast сериализует сообщение и отправляет всем клиентам.
// Не блокирует: при переполненном канале сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	data, err := hubJSON.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", utils.Err(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw отправляет уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.stop:
	default:
		h.dropped.Add(1)
	}
}

// ============================================================
// Типизированные broadcast-помощники
// ============================================================

// BroadcastTickStatus отправляет состояние планировщика
func (h *Hub) BroadcastTickStatus(state string, lastCheck map[string]time.Time) {
	h.Broadcast(NewTickStatusMessage(state, lastCheck))
}

// BroadcastSnapshot отправляет снимок индикаторов
func (h *Hub) BroadcastSnapshot(snap models.IndicatorSnapshot) {
	h.Broadcast(NewSnapshotMessage(snap))
}

// BroadcastDecision отправляет решение и исход его исполнения
func (h *Hub) BroadcastDecision(result models.ExecutionResult) {
	h.Broadcast(NewDecisionMessage(result))
}

// BroadcastCrash отправляет событие обвала
func (h *Hub) BroadcastCrash(ev models.CrashEvent) {
	h.Broadcast(NewCrashMessage(ev))
}

// BroadcastNotification отправляет событие жизненного цикла позиции
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// BroadcastLedger отправляет счётчики рисков
func (h *Hub) BroadcastLedger(ledger models.RiskLedger) {
	h.Broadcast(NewLedgerUpdateMessage(ledger))
}

// RunNotificationPump транслирует уведомления торгового цикла в
// WebSocket до отмены контекста. Запускается в отдельной горутине.
func (h *Hub) RunNotificationPump(ctx context.Context, notifications <-chan *models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			h.BroadcastNotification(notif)
		}
	}
}

// ClientCount возвращает количество подключённых клиентов
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// DroppedMessages возвращает количество отброшенных сообщений
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
