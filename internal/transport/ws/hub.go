package ws

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/session"
)

// Hub manages all active WebSocket clients and routes events. A user may be
// connected from several devices at once, so clients are tracked per
// connection, not per user.
type Hub struct {
	clients map[*Client]struct{}

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *broadcastMsg
	subscribeCh chan *subChange

	// subscriberCounts drives the feed bridge: the first subscriber on a
	// channel starts its feed tail, the last one leaving stops it.
	subscriberCounts  map[uuid.UUID]int
	onFirstSubscriber func(channelID uuid.UUID)
	onLastSubscriber  func(channelID uuid.UUID)

	typing *session.TypingRegistry
}

type broadcastMsg struct {
	channelID uuid.UUID
	data      []byte
	excludeID *uuid.UUID // optional: skip this user (e.g. sender)
}

type subChange struct {
	client    *Client
	channelID uuid.UUID
	on        bool
}

const broadcastBuf = 256

func NewHub(typing *session.TypingRegistry) *Hub {
	return &Hub{
		clients:          make(map[*Client]struct{}),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		broadcast:        make(chan *broadcastMsg, broadcastBuf),
		subscribeCh:      make(chan *subChange, 64),
		subscriberCounts: make(map[uuid.UUID]int),
		typing:           typing,
	}
}

// SetSubscriberHooks wires the feed bridge callbacks. Must be called before
// Run. Hooks are invoked on the hub loop and must not block; anything slow
// (tailing or tearing down a feed subscription) has to be handed off to
// another goroutine.
func (h *Hub) SetSubscriberHooks(onFirst, onLast func(channelID uuid.UUID)) {
	h.onFirstSubscriber = onFirst
	h.onLastSubscriber = onLast
}

// Run starts the Hub's main event loop. Call this in a goroutine. Client
// subscription sets are owned by this loop; pumps communicate via channels.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			log.Printf("ws hub: user %s connected (%d conns)", client.userID, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.dropClient(client)
				log.Printf("ws hub: user %s disconnected (%d conns)", client.userID, len(h.clients))
			}

		case change := <-h.subscribeCh:
			h.applySubChange(change)

		case msg := <-h.broadcast:
			for client := range h.clients {
				if msg.excludeID != nil && client.userID == *msg.excludeID {
					continue
				}
				if _, ok := client.subscribed[msg.channelID]; !ok {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full - disconnect
					h.dropClient(client)
				}
			}
		}
	}
}

// BroadcastToChannel sends an event to all subscribers of a channel. It
// never blocks: callers include feed tail goroutines whose teardown the hub
// loop itself waits on, so a blocking send here could wedge the loop for
// good. When the buffer is full the event is dropped, same as the per-client
// path; clients recover by rehydrating over HTTP.
func (h *Hub) BroadcastToChannel(channelID uuid.UUID, event *Event, excludeUserID *uuid.UUID) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws hub: marshal error: %v", err)
		return
	}
	msg := &broadcastMsg{
		channelID: channelID,
		data:      data,
		excludeID: excludeUserID,
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Printf("ws hub: broadcast buffer full, dropping %s on %s", event.Type, channelID)
	}
}

func (h *Hub) dropClient(client *Client) {
	delete(h.clients, client)
	close(client.send)
	close(client.done)
	for channelID := range client.subscribed {
		h.decSubscribers(channelID)
	}
	client.subscribed = make(map[uuid.UUID]struct{})
}

func (h *Hub) applySubChange(change *subChange) {
	client := change.client
	if _, ok := h.clients[client]; !ok {
		return
	}
	if change.on {
		if _, ok := client.subscribed[change.channelID]; ok {
			return
		}
		client.subscribed[change.channelID] = struct{}{}
		h.subscriberCounts[change.channelID]++
		if h.subscriberCounts[change.channelID] == 1 && h.onFirstSubscriber != nil {
			h.onFirstSubscriber(change.channelID)
		}
		h.sendTypingSnapshot(client, change.channelID)
		return
	}
	if _, ok := client.subscribed[change.channelID]; !ok {
		return
	}
	delete(client.subscribed, change.channelID)
	h.decSubscribers(change.channelID)
}

func (h *Hub) decSubscribers(channelID uuid.UUID) {
	h.subscriberCounts[channelID]--
	if h.subscriberCounts[channelID] <= 0 {
		delete(h.subscriberCounts, channelID)
		if h.onLastSubscriber != nil {
			h.onLastSubscriber(channelID)
		}
	}
}

// sendTypingSnapshot catches a fresh subscriber up on who is typing right
// now. Typing relays only reach clients already subscribed, so without this
// a user opening a conversation misses indicators started moments earlier.
func (h *Hub) sendTypingSnapshot(client *Client, channelID uuid.UUID) {
	for _, sig := range h.typing.TypingUsers(channelID) {
		if sig.UserID == client.userID {
			continue
		}
		evt, err := NewEvent(EventTypeTyping, &channelID, TypingPayload{
			UserID:      sig.UserID,
			DisplayName: sig.DisplayName,
		})
		if err != nil {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
		}
	}
}

// handleTyping records the signal and relays it to channel subscribers,
// excluding the sender. Typing never touches persistence or the feed.
func (h *Hub) handleTyping(sender *Client, channelID uuid.UUID, start bool) {
	payload := TypingPayload{
		UserID:      sender.userID,
		Username:    sender.username,
		DisplayName: sender.displayName,
	}

	eventType := EventTypeTyping
	if start {
		h.typing.Observe(domain.TypingSignal{
			ChannelID:   channelID,
			UserID:      sender.userID,
			DisplayName: sender.displayName,
		})
	} else {
		h.typing.Stop(channelID, sender.userID)
		eventType = EventTypeTypingStopped
	}

	evt, err := NewEvent(eventType, &channelID, payload)
	if err != nil {
		return
	}
	h.BroadcastToChannel(channelID, evt, &sender.userID)
}
