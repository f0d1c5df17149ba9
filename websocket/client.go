package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // время на запись одного сообщения
	pongWait       = 60 * time.Second    // максимальное время ожидания PONG
	pingPeriod     = (pongWait * 9) / 10 // как часто слать PING
	maxMessageSize = 512                 // максимальный размер входящего сообщения
)

var newline = []byte{'\n'}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client представляет одно WebSocket-соединение оператора
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	AgentID uuid.UUID
}

// ServeWs апгрейдит соединение и запускает насосы чтения и записи
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, agentID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: ошибка апгрейда: %v", err)
		return
	}
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		AgentID: agentID,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump вычитывает входящие фреймы; панель ничего не шлёт, кроме PONG,
// но чтение нужно, чтобы заметить закрытие соединения.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: неожиданное закрытие (%s): %v", c.AgentID, err)
			}
			break
		}
	}
}

// writePump пишет из канала send и держит соединение живым ping/pong'ом
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// канал закрыт Hub'ом
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// сбрасываем накопленные уведомления
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
