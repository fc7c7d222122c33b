package realtime

import (
	"sync"

	"github.com/sirupsen/logrus"

	"logitrack/internal/models"
)

// Conn is the subset of a websocket connection the hub needs. Tests plug in
// recorders; the transport layer passes *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
}

type outbound struct {
	topics []string
	env    Envelope
}

// Hub fans envelopes out to topic subscribers inside this process. It
// implements Broadcaster and is also the local delivery end of the Redis
// bridge.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[Conn]bool

	broadcast chan outbound
}

func NewHub() *Hub {
	h := &Hub{
		topics:    make(map[string]map[Conn]bool),
		broadcast: make(chan outbound, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for msg := range h.broadcast {
		h.deliver(msg)
	}
}

func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range msg.topics {
		var failed []Conn
		for conn := range h.topics[topic] {
			if err := conn.WriteJSON(msg.env); err != nil {
				logrus.WithError(err).WithField("topic", topic).
					Warn("Dropping subscriber after failed write.")
				failed = append(failed, conn)
			}
		}
		for _, conn := range failed {
			h.removeLocked(topic, conn)
		}
	}
}

// Subscribe adds conn to topic. Authorization happens at the transport
// boundary before this is called.
func (h *Hub) Subscribe(topic string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[Conn]bool)
	}
	h.topics[topic][conn] = true
	logrus.WithField("topic", topic).Debug("Subscriber joined topic.")
}

func (h *Hub) Unsubscribe(topic string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, conn)
}

// UnsubscribeAll detaches a closing connection from every topic.
func (h *Hub) UnsubscribeAll(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.topics {
		h.removeLocked(topic, conn)
	}
}

func (h *Hub) removeLocked(topic string, conn Conn) {
	if conns, ok := h.topics[topic]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Deliver queues an envelope for the given topics. Used by PublishStatus /
// PublishLocation and by the Redis bridge when a remote instance published.
func (h *Hub) Deliver(topics []string, env Envelope) {
	select {
	case h.broadcast <- outbound{topics: topics, env: env}:
	default:
		logrus.Warn("Broadcast channel full, dropping message.")
	}
}

func (h *Hub) PublishStatus(deliveryID uint, status string) {
	h.Deliver([]string{DeliveryTopic(deliveryID)}, statusEnvelope(deliveryID, status))
}

func (h *Hub) PublishLocation(ping *models.LocationPing) {
	topics := []string{DeliveryTopic(ping.DeliveryID), DriverTopic(ping.DriverID)}
	h.Deliver(topics, locationEnvelope(ping))
}
