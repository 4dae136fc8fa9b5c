// Package ws fans committed place events out to live subscribers, keyed by
// the id of the user whose places they follow.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/splax/placeshare/internal/domain"
)

const broadcastBuffer = 64

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by creator id. All subscription state is
// owned by the run loop.
type Hub struct {
	clients   map[domain.UserID]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan chan int
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

type message struct {
	userID  domain.UserID
	payload []byte
}

type subscription struct {
	userID domain.UserID
	client Subscriber
}

// NewHub creates a Hub and starts its run loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:   make(map[domain.UserID]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		count:     make(chan chan int),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.userID]; !ok {
				h.clients[sub.userID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.userID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.userID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.userID)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg)
		case reply := <-h.count:
			total := 0
			for _, clients := range h.clients {
				total += len(clients)
			}
			reply <- total
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		}
	}
}

func (h *Hub) deliver(msg message) {
	clients, ok := h.clients[msg.userID]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(msg.payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, msg.userID)
	}
}

// Register adds a client to a user's stream.
func (h *Hub) Register(userID domain.UserID, client Subscriber) {
	select {
	case h.register <- subscription{userID: userID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(userID domain.UserID, client Subscriber) {
	select {
	case h.unreg <- subscription{userID: userID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to every client following userID.
func (h *Hub) Broadcast(userID domain.UserID, payload []byte) {
	select {
	case h.broadcast <- message{userID: userID, payload: payload}:
	case <-h.done:
	}
}

// Publish encodes event and broadcasts it to subscribers of its creator.
func (h *Hub) Publish(event domain.PlaceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode place event failed", "error", err, "place_id", event.PlaceID)
		return
	}
	h.Broadcast(event.CreatorID, payload)
}

// Subscribers reports how many clients are connected.
func (h *Hub) Subscribers() int {
	select {
	case <-h.done:
		return 0
	default:
	}
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close disconnects every subscriber and stops the run loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
