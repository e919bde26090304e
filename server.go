package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket clients
var (
	wsClients   = make(map[*Client]bool)
	wsClientsMu sync.RWMutex
)

type Client struct {
	conn *websocket.Conn
	send chan interface{}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func broadcastJSON(msg interface{}) {
	wsClientsMu.RLock()
	defer wsClientsMu.RUnlock()

	for client := range wsClients {
		select {
		case client.send <- msg:
		default:
			// Slow client, drop the frame rather than stall the loop.
		}
	}
}

// runServer starts the HTTP/websocket presentation server and the
// acquisition loop behind it.
func runServer(port int) {
	upgrader := websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  1024,
		WriteBufferSize: 65536,
	}

	// API endpoints
	http.HandleFunc("/api/connect", handleConnect)
	http.HandleFunc("/api/disconnect", handleDisconnect)
	http.HandleFunc("/api/status", handleStatus)
	http.HandleFunc("/api/history", handleHistory)
	http.HandleFunc("/api/register", handleRegister)
	http.HandleFunc("/api/reset", handleReset)
	http.HandleFunc("/api/reacquire", handleReacquire)
	http.HandleFunc("/api/disengage", handleAutoDisengage)
	http.HandleFunc("/api/settings", handleSettings)

	// Recording endpoints
	http.HandleFunc("/api/record/start", handleRecordStart)
	http.HandleFunc("/api/record/stop", handleRecordStop)
	http.HandleFunc("/api/record/status", handleRecordStatus)

	// Data logger endpoints
	http.HandleFunc("/api/log/start", handleLogStart)
	http.HandleFunc("/api/log/stop", handleLogStop)
	http.HandleFunc("/api/log/status", handleLogStatus)

	// WebSocket streaming endpoint
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade:", err)
			return
		}

		log.Println("Client connected")

		client := &Client{conn: conn, send: make(chan interface{}, 64)}

		wsClientsMu.Lock()
		wsClients[client] = true
		wsClientsMu.Unlock()

		go client.writePump()

		defer func() {
			wsClientsMu.Lock()
			delete(wsClients, client)
			wsClientsMu.Unlock()
			close(client.send)
			log.Println("Client disconnected")
		}()

		// Read pump: clients may send control messages over the socket
		// instead of the REST API.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctl struct {
				Type  string  `json:"type"`
				Name  string  `json:"name"`
				Value float64 `json:"value"`
			}
			if err := json.Unmarshal(msg, &ctl); err != nil {
				continue
			}
			switch ctl.Type {
			case "register":
				if _, err := applySetting(ctl.Name, ctl.Value); err != nil {
					log.Printf("ws register %s: %v", ctl.Name, err)
				}
			case "reacquire":
				if err := session.Reacquire(); err != nil {
					log.Printf("ws reacquire: %v", err)
				}
			}
		}
	})

	go runAcquireLoop()

	addr := fmt.Sprintf(":%d", port)
	log.Printf("lock client server listening on http://localhost%s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
