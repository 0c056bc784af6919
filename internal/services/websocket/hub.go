package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"visionrelay/internal/logger"
)

const (
	broadcastQueue = 64
	viewerQueue    = 16
	writeWait      = 5 * time.Second
	readLimit      = 512

	// DefaultPongWait is how long a viewer may stay silent before it is dropped.
	// Pings go out at nine tenths of it, so browsers that answer them stay connected.
	DefaultPongWait = 60 * time.Second
)

// viewer owns one connection. Only its write pump writes to conn.
type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// HubService fans detection results out to every connected viewer.
type HubService struct {
	viewers    map[*viewer]bool
	broadcast  chan []byte
	register   chan *viewer
	unregister chan *viewer
	done       chan struct{}
	count      atomic.Int64
	pongWait   time.Duration
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		viewers:    make(map[*viewer]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		done:       make(chan struct{}),
		pongWait:   DefaultPongWait,
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes all
// remaining viewers. Run must only be called once.
func (h *HubService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for v := range h.viewers {
				h.drop(v)
			}
			return

		case v := <-h.register:
			h.viewers[v] = true
			h.count.Store(int64(len(h.viewers)))
			h.logger.Info("Viewer connected. Total: %d", len(h.viewers))

		case v := <-h.unregister:
			if h.viewers[v] {
				h.drop(v)
			}
			h.logger.Info("Viewer disconnected. Total: %d", len(h.viewers))

		case message := <-h.broadcast:
			for v := range h.viewers {
				select {
				case v.send <- message:
				default:
					h.logger.Warning("Dropping viewer that fell %d messages behind", viewerQueue)
					h.drop(v)
				}
			}
		}
	}
}

// drop must only be called from Run.
func (h *HubService) drop(v *viewer) {
	delete(h.viewers, v)
	close(v.send)
	h.count.Store(int64(len(h.viewers)))
}

// ServeViewer registers conn and blocks until the viewer goes away or the hub
// stops. The connection is closed on return.
func (h *HubService) ServeViewer(ctx context.Context, conn *websocket.Conn) {
	v := &viewer{conn: conn, send: make(chan []byte, viewerQueue)}
	select {
	case h.register <- v:
	case <-ctx.Done():
		conn.Close()
		return
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(v)
	h.readPump(v)

	select {
	case h.unregister <- v:
	case <-h.done:
	}
}

// readPump discards viewer input; it exists to process pongs and notice disconnects.
func (h *HubService) readPump(v *viewer) {
	v.conn.SetReadLimit(readLimit)
	v.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("Viewer read error: %v", err)
			}
			return
		}
	}
}

func (h *HubService) writePump(v *viewer) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warning("Dropping viewer after failed send: %v", err)
				return
			}

		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Broadcast queues message for every viewer. It never blocks the caller: when
// the queue is full the message is dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.logger.Warning("Broadcast queue full - dropping message")
		return false
	}
}

// BroadcastJSON encodes v and queues it, skipping the work when nobody is watching.
func (h *HubService) BroadcastJSON(v interface{}) error {
	if h.GetClientCount() == 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode broadcast")
	}
	h.Broadcast(data)
	return nil
}

func (h *HubService) GetClientCount() int {
	return int(h.count.Load())
}
