package ws

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/feed"
	"github.com/velickovic/clubchat/internal/session"
)

// FeedBridge relays a channel's change feed to its connected subscribers.
// The hub reports when a channel gains its first or loses its last
// subscriber; the bridge tails the feed only for channels somebody is
// actually watching.
//
// Hook calls arrive on the hub loop, which must never wait on the syncer:
// tearing a subscription down blocks until its tail goroutine exits, and
// that goroutine may itself be publishing into the hub. The bridge therefore
// queues hook work and applies it on its own goroutine, in order.
type FeedBridge struct {
	hub    *Hub
	syncer *session.Syncer
	ops    chan bridgeOp
}

type bridgeOp struct {
	channelID uuid.UUID
	start     bool
}

func NewFeedBridge(hub *Hub, syncer *session.Syncer) *FeedBridge {
	b := &FeedBridge{
		hub:    hub,
		syncer: syncer,
		ops:    make(chan bridgeOp, 64),
	}
	hub.SetSubscriberHooks(b.channelUp, b.channelDown)
	go b.loop()
	return b
}

func (b *FeedBridge) channelUp(channelID uuid.UUID)   { b.ops <- bridgeOp{channelID: channelID, start: true} }
func (b *FeedBridge) channelDown(channelID uuid.UUID) { b.ops <- bridgeOp{channelID: channelID} }

func (b *FeedBridge) loop() {
	for op := range b.ops {
		if op.start {
			b.startChannel(op.channelID)
		} else {
			b.syncer.Unsubscribe(op.channelID)
		}
	}
}

func (b *FeedBridge) startChannel(channelID uuid.UUID) {
	b.syncer.Subscribe(context.Background(), channelID, "", session.Handlers{
		OnMessage: func(p feed.MessagePayload) {
			b.relay(EventTypeMessageNew, channelID, p)
		},
		OnDeleted: func(messageID uuid.UUID) {
			b.relay(EventTypeMessageDeleted, channelID, feed.MessageDeletedPayload{MessageID: messageID})
		},
		OnReaction: func(p feed.ReactionPayload) {
			b.relay(EventTypeReactionToggled, channelID, p)
		},
		OnReceipt: func(p feed.ReceiptPayload) {
			b.relay(EventTypeReceiptAdded, channelID, p)
		},
		// Clients rehydrate over HTTP on their own; the bridge only carries
		// live traffic.
		OnResync: func() {
			log.Printf("ws bridge: feed window lost for %s", channelID)
		},
	})
}

func (b *FeedBridge) relay(eventType string, channelID uuid.UUID, payload any) {
	evt, err := NewEvent(eventType, &channelID, payload)
	if err != nil {
		log.Printf("ws bridge: encoding %s: %v", eventType, err)
		return
	}
	b.hub.BroadcastToChannel(channelID, evt, nil)
}
