package handlers

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Adjust CORS as needed, e.g., check r.Header.Get("Origin")
	},
}

// AlertHub stores connected hospital dashboards (hospitalId -> *websocket.Conn)
type AlertHub struct {
	clients map[string]*websocket.Conn
	mutex   sync.Mutex
}

// NewAlertHub creates an empty hub
func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients: make(map[string]*websocket.Conn),
		mutex:   sync.Mutex{},
	}
}

// HandleAlertsWebSocket upgrades the connection and registers the hospital
// for alert lifecycle events
func (h *AlertHub) HandleAlertsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	hospitalID := r.URL.Query().Get("hospitalId")
	if hospitalID == "" {
		conn.Close()
		return
	}

	h.mutex.Lock()
	h.clients[hospitalID] = conn
	h.mutex.Unlock()
	log.Printf("Hospital %s connected to /ws/alerts", hospitalID)

	conn.SetCloseHandler(func(code int, text string) error {
		h.mutex.Lock()
		delete(h.clients, hospitalID)
		h.mutex.Unlock()
		log.Printf("Hospital %s disconnected from /ws/alerts", hospitalID)
		return nil
	})

	// Keep connection alive
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			break
		}
	}
}

// BroadcastAlertEvent sends an alert lifecycle event to all connected
// hospital dashboards
func (h *AlertHub) BroadcastAlertEvent(eventType string, data map[string]interface{}) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if len(h.clients) == 0 {
		return
	}

	for hospitalID, conn := range h.clients {
		err := conn.WriteJSON(map[string]interface{}{
			"event": eventType,
			"data":  data,
		})
		if err != nil {
			log.Printf("Error broadcasting alert event to hospital %s: %v", hospitalID, err)
			delete(h.clients, hospitalID)
			conn.Close()
		}
	}
}

// SendAlertEventToHospital sends an alert event to one connected hospital
func (h *AlertHub) SendAlertEventToHospital(hospitalID, eventType string, data map[string]interface{}) {
	h.mutex.Lock()
	conn, exists := h.clients[hospitalID]
	h.mutex.Unlock()

	if exists {
		err := conn.WriteJSON(map[string]interface{}{
			"event": eventType,
			"data":  data,
		})
		if err != nil {
			log.Printf("Error sending alert event to hospital %s: %v", hospitalID, err)
			h.mutex.Lock()
			delete(h.clients, hospitalID)
			h.mutex.Unlock()
			conn.Close()
		}
	}
}
