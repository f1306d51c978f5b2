package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yourusername/episode-offline-go/internal/app"
	"github.com/yourusername/episode-offline-go/internal/domain"
	"go.uber.org/zap"
)

const (
	pingInterval   = 30 * time.Second
	statusInterval = 2 * time.Second
	writeWait      = 10 * time.Second
	eventBuffer    = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressMessage is one frame of the progress stream
type ProgressMessage struct {
	Type     string                `json:"type"` // snapshot, progress, status
	Download *domain.Job           `json:"download,omitempty"`
	Event    *domain.ProgressEvent `json:"event,omitempty"`
}

// ProgressWebSocketHandler streams progress events of one download over a WebSocket
type ProgressWebSocketHandler struct {
	orchestrator   *app.Orchestrator
	logger         *zap.Logger
	statusInterval time.Duration

	mu      sync.RWMutex
	clients map[string]string // client id -> download id
}

// NewProgressWebSocketHandler creates a new WebSocket handler
func NewProgressWebSocketHandler(orchestrator *app.Orchestrator, log *zap.Logger) *ProgressWebSocketHandler {
	return &ProgressWebSocketHandler{
		orchestrator:   orchestrator,
		logger:         log,
		statusInterval: statusInterval,
		clients:        make(map[string]string),
	}
}

// ClientCount returns how many progress streams are open
func (h *ProgressWebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles GET /api/v1/downloads/:id/progress.
// It sends the stored record first, then every progress event, and a final status frame
// once the download reaches a terminal state.
func (h *ProgressWebSocketHandler) HandleWebSocket(c *gin.Context) {
	id := c.Param("id")

	job, err := h.orchestrator.GetStatus(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "download not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	h.mu.Lock()
	h.clients[clientID] = id
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
	}()

	h.logger.Info("Progress client connected",
		zap.String("client_id", clientID),
		zap.String("id", id),
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Subscribe before the snapshot so no event between the two is lost
	events := make(chan domain.ProgressEvent, eventBuffer)
	unsubscribe := h.orchestrator.OnProgress(id, func(e domain.ProgressEvent) {
		select {
		case events <- e:
		default:
		}
	})
	defer unsubscribe()

	if err := h.write(conn, ProgressMessage{Type: "snapshot", Download: job}); err != nil {
		return
	}
	if job.IsTerminal() {
		h.close(conn)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	status := time.NewTicker(h.statusInterval)
	defer status.Stop()

	for {
		select {
		case e := <-events:
			if err := h.write(conn, ProgressMessage{Type: "progress", Event: &e}); err != nil {
				h.logger.Debug("Progress client write failed", zap.String("client_id", clientID), zap.Error(err))
				return
			}

		case <-status.C:
			current, err := h.orchestrator.GetStatus(id)
			if err != nil || current == nil {
				h.close(conn)
				return
			}
			if current.IsTerminal() {
				h.drain(conn, events)
				if h.write(conn, ProgressMessage{Type: "status", Download: current}) == nil {
					h.close(conn)
				}
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// drain flushes buffered events ahead of the final status frame
func (h *ProgressWebSocketHandler) drain(conn *websocket.Conn, events <-chan domain.ProgressEvent) {
	for {
		select {
		case e := <-events:
			if h.write(conn, ProgressMessage{Type: "progress", Event: &e}) != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *ProgressWebSocketHandler) write(conn *websocket.Conn, msg ProgressMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *ProgressWebSocketHandler) close(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
