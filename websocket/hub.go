package websocket

import (
	"context"
	"encoding/json"
	"log"
)

// Hub раздаёт уведомления панели операторов по WebSocket
type Hub struct {
	// Подключённые операторы
	clients map[*Client]bool

	// Исходящие уведомления
	broadcast chan []byte

	// Регистрация клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Run запускает цикл раздачи; завершается по отмене ctx
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("WS: оператор подключился, всего: %d", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("WS: оператор отключился, всего: %d", len(h.clients))
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// BroadcastMessage отправляет готовый payload всем подключённым операторам
func (h *Hub) BroadcastMessage(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Printf("WS: очередь рассылки переполнена, уведомление пропущено")
	}
}

// Broadcast маршалит объект и рассылает его всем операторам
func (h *Hub) Broadcast(message any) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("WS: ошибка маршалинга уведомления: %v", err)
		return
	}
	h.BroadcastMessage(data)
}
