package controllers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"logitrack/internal/access"
	"logitrack/internal/apperr"
	"logitrack/internal/middleware"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are filtered by the CORS layer
	},
}

// WebSocketController upgrades tracking clients and manages their topic
// subscriptions. Every subscribe runs through the same access gate as the
// REST reads, so knowing a delivery id is not enough to watch it.
type WebSocketController struct {
	hub        *realtime.Hub
	deliveries repository.Deliveries
}

// syncConn serializes all writes to one websocket connection. gorilla
// permits a single concurrent writer, and both the hub goroutine and the
// read loop's acks write here.
type syncConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *syncConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func NewWebSocketController(hub *realtime.Hub, deliveries repository.Deliveries) *WebSocketController {
	return &WebSocketController{hub: hub, deliveries: deliveries}
}

// subscribeFrame is one client-to-server control message.
type subscribeFrame struct {
	Action     string `json:"action"`
	DeliveryID uint   `json:"delivery_id"`
	DriverID   uint   `json:"driver_id"`
}

// Track handles the tracking WebSocket. The caller authenticates through the
// token query parameter; subscriptions arrive as JSON frames on the socket.
func (wc *WebSocketController) Track(c *gin.Context) {
	actor := middleware.ActorFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed.")
		return
	}
	sc := &syncConn{conn: conn}
	defer func() {
		wc.hub.UnsubscribeAll(sc)
		conn.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"user_id": actor.ID,
		"role":    actor.Role,
	}).Info("Tracking client connected.")

	for {
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithError(err).Debug("Tracking client read error.")
			}
			return
		}
		wc.handleFrame(c, sc, actor, frame)
	}
}

func (wc *WebSocketController) handleFrame(c *gin.Context, conn *syncConn, actor access.Actor, frame subscribeFrame) {
	switch frame.Action {
	case "subscribe":
		delivery, err := wc.deliveries.ByID(c.Request.Context(), frame.DeliveryID)
		if err == nil {
			err = access.Authorize(actor, delivery)
		}
		if err != nil {
			writeError(conn, err)
			return
		}
		wc.hub.Subscribe(realtime.DeliveryTopic(frame.DeliveryID), conn)
		writeAck(conn, "subscribed", frame.DeliveryID)

	case "unsubscribe":
		wc.hub.Unsubscribe(realtime.DeliveryTopic(frame.DeliveryID), conn)
		writeAck(conn, "unsubscribed", frame.DeliveryID)

	case "subscribe_driver":
		// Drivers watch their own topic; admins may watch any driver.
		driverID := actor.ID
		if actor.IsAdmin() && frame.DriverID != 0 {
			driverID = frame.DriverID
		} else if !actor.IsDriver() {
			writeError(conn, apperr.Forbidden("driver topic is driver-only"))
			return
		}
		wc.hub.Subscribe(realtime.DriverTopic(driverID), conn)
		writeAck(conn, "subscribed_driver", driverID)

	default:
		writeError(conn, apperr.Validation("unknown action"))
	}
}

func writeAck(conn *syncConn, event string, id uint) {
	_ = conn.WriteJSON(gin.H{"event": event, "id": id})
}

func writeError(conn *syncConn, err error) {
	_ = conn.WriteJSON(gin.H{
		"event":   "error",
		"kind":    apperr.KindOf(err),
		"message": apperr.MessageOf(err),
	})
}
