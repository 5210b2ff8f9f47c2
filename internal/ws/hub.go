package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Authorizer decides whether userID may subscribe to channel.
type Authorizer func(ctx context.Context, userID uint, channel string) (bool, error)

// Frame is what subscribers receive.
type Frame struct {
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type outbound struct {
	channel string
	data    []byte
	except  uint
}

type subscription struct {
	client  *Client
	channel string
	add     bool
	reply   []byte
}

var ErrQueueFull = errors.New("ws: broadcast queue full")

type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Outbound events from Publish.
	broadcast chan outbound

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Subscribe and unsubscribe requests from clients.
	subscriptions chan subscription

	mu     sync.RWMutex
	online map[uint]int

	// done is closed when Run returns.
	done chan struct{}

	authorize Authorizer
	log       *logrus.Logger
}

func NewHub(authorize Authorizer, log *logrus.Logger) *Hub {
	return &Hub{
		broadcast:     make(chan outbound, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(chan subscription),
		clients:       make(map[*Client]bool),
		online:        make(map[uint]int),
		done:          make(chan struct{}),
		authorize:     authorize,
		log:           log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.mu.Lock()
			h.online[client.userID]++
			h.mu.Unlock()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case sub := <-h.subscriptions:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			if sub.add {
				sub.client.channels[sub.channel] = true
			} else {
				delete(sub.client.channels, sub.channel)
			}
			if sub.reply != nil {
				h.deliver(sub.client, sub.reply)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.userID == msg.except || !client.channels[msg.channel] {
					continue
				}
				h.deliver(client, msg.data)
			}
		}
	}
}

// deliver queues data for client, dropping clients that cannot keep up.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.WithField("user_id", client.userID).Warn("websocket client too slow, disconnecting")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.mu.Lock()
	if h.online[client.userID]--; h.online[client.userID] <= 0 {
		delete(h.online, client.userID)
	}
	h.mu.Unlock()
}

// Publish implements events.Publisher. It never blocks; when the queue is
// full the event is dropped and ErrQueueFull returned.
func (h *Hub) Publish(channel, event string, payload any, exceptUserID uint) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Channel: channel, Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- outbound{channel: channel, data: frame, except: exceptUserID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Online reports whether userID has at least one live connection.
func (h *Hub) Online(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// Subscribe checks the authorizer and subscribes client to channel. The
// outcome is reported to the client as a "subscribed" or "error" frame.
func (h *Hub) Subscribe(ctx context.Context, client *Client, channel string) {
	ok, err := h.authorize(ctx, client.userID, channel)
	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"user_id": client.userID,
			"channel": channel,
		}).Error("websocket subscription check failed")
	}
	if err != nil || !ok {
		reply, _ := json.Marshal(Frame{Channel: channel, Event: "error", Message: "forbidden"})
		h.request(subscription{client: client, channel: channel, add: false, reply: reply})
		return
	}
	reply, _ := json.Marshal(Frame{Channel: channel, Event: "subscribed"})
	h.request(subscription{client: client, channel: channel, add: true, reply: reply})
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	reply, _ := json.Marshal(Frame{Channel: channel, Event: "unsubscribed"})
	h.request(subscription{client: client, channel: channel, add: false, reply: reply})
}

func (h *Hub) request(sub subscription) {
	select {
	case h.subscriptions <- sub:
	case <-h.done:
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
