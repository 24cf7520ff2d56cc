package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
)

const defaultPageSize = 50

// DirectoryAPI is the server surface the directory drives: listing
// conversations and creating new ones. startDirect dedup happens on the
// server, never by client-side caching alone.
type DirectoryAPI interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	StartDirect(ctx context.Context, peerID uuid.UUID) (*domain.Conversation, error)
	CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (*domain.Conversation, error)
}

// HistorySource supplies the last page of a channel's timeline for
// hydration and resync.
type HistorySource interface {
	ListMessages(ctx context.Context, channelID uuid.UUID, limit int) ([]domain.Message, error)
}

// ChannelView bundles the per-channel session state: the timeline and the
// derived reaction/read summaries. Views are retained after navigating
// away so in-flight sends still land in the right timeline.
type ChannelView struct {
	Stream    *Stream
	Summaries *Aggregator
}

// Directory is the ordered conversation list plus the per-channel
// composition root: selecting a conversation subscribes its feed, hydrates
// its stream, and wires events into the view.
type Directory struct {
	api      DirectoryAPI
	history  HistorySource
	syncer   *Syncer
	typing   *TypingRegistry
	pageSize int

	mu            sync.Mutex
	conversations []domain.Conversation
	selected      uuid.UUID
	views         map[uuid.UUID]*ChannelView
}

func NewDirectory(api DirectoryAPI, history HistorySource, syncer *Syncer) *Directory {
	return &Directory{
		api:      api,
		history:  history,
		syncer:   syncer,
		typing:   NewTypingRegistry(),
		pageSize: defaultPageSize,
		views:    make(map[uuid.UUID]*ChannelView),
	}
}

func (d *Directory) Typing() *TypingRegistry { return d.typing }

// Refresh reloads the conversation list from the server, most recent
// activity first (the server orders it).
func (d *Directory) Refresh(ctx context.Context) error {
	convs, err := d.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	d.mu.Lock()
	d.conversations = convs
	d.mu.Unlock()
	return nil
}

func (d *Directory) List() []domain.Conversation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Conversation, len(d.conversations))
	copy(out, d.conversations)
	return out
}

// StartDirect returns the existing direct conversation with the peer or
// creates one. The server's uniqueness check guarantees racing callers
// converge on a single conversation.
func (d *Directory) StartDirect(ctx context.Context, peerID uuid.UUID) (*domain.Conversation, error) {
	conv, err := d.api.StartDirect(ctx, peerID)
	if err != nil {
		return nil, err
	}
	d.upsert(*conv)
	return conv, nil
}

// CreateGroup creates a group conversation. Names are not unique; a
// duplicate name is not an error.
func (d *Directory) CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	conv, err := d.api.CreateGroup(ctx, name, memberIDs)
	if err != nil {
		return nil, err
	}
	d.upsert(*conv)
	return conv, nil
}

// Select makes channelID the active conversation: the previous channel's
// subscription is torn down first, then the new channel's view is hydrated
// from the last known page and subscribed for live events. Selecting the
// already-selected channel just returns its view.
func (d *Directory) Select(ctx context.Context, channelID uuid.UUID) (*ChannelView, error) {
	d.mu.Lock()
	if d.selected == channelID {
		if view, ok := d.views[channelID]; ok {
			d.mu.Unlock()
			return view, nil
		}
	}
	previous := d.selected
	d.selected = channelID
	view, ok := d.views[channelID]
	if !ok {
		view = &ChannelView{
			Stream:    NewStream(channelID),
			Summaries: NewAggregator(),
		}
		d.views[channelID] = view
	}
	d.mu.Unlock()

	if previous != uuid.Nil && previous != channelID {
		d.syncer.Unsubscribe(previous)
	}

	// The position is taken before the hydration read. Subscribing from it
	// replays anything committed while the read was in flight; subscribing
	// from "now" instead would silently drop those events.
	position := d.syncer.Position(ctx, channelID)

	if err := d.hydrate(ctx, view); err != nil {
		// Retryable: selection stands, the subscription below still
		// delivers live events, and the caller can re-select to retry.
		log.Printf("directory: hydrating %s: %v", channelID, err)
	}

	d.syncer.Subscribe(ctx, channelID, position, d.handlersFor(view))
	return view, nil
}

// Selected returns the active channel id, or uuid.Nil.
func (d *Directory) Selected() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// View returns the retained view for a channel, if one exists. Used to
// apply results of sends that finished after the user navigated away.
func (d *Directory) View(channelID uuid.UUID) (*ChannelView, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	view, ok := d.views[channelID]
	return view, ok
}

func (d *Directory) handlersFor(view *ChannelView) Handlers {
	return Handlers{
		OnMessage: func(p feed.MessagePayload) {
			view.Summaries.ObserveMessage(p.Message.ID, p.Message.AuthorID)
			view.Stream.IngestRemote(p.Message, p.ClientKey)
		},
		OnDeleted: view.Stream.Delete,
		OnReaction: func(p feed.ReactionPayload) {
			view.Summaries.ApplyReaction(p.MessageID, p.UserID, p.Emoji, p.Added)
		},
		OnReceipt: func(p feed.ReceiptPayload) {
			view.Summaries.MarkRead(p.MessageID, p.UserID, p.ReadAt)
		},
		OnResync: func() {
			if err := d.hydrate(context.Background(), view); err != nil {
				log.Printf("directory: resync %s: %v", view.Stream.ChannelID(), err)
			}
		},
	}
}

func (d *Directory) hydrate(ctx context.Context, view *ChannelView) error {
	page, err := d.history.ListMessages(ctx, view.Stream.ChannelID(), d.pageSize)
	if err != nil {
		return err
	}
	view.Stream.Hydrate(page)
	for _, msg := range page {
		view.Summaries.ObserveMessage(msg.ID, msg.AuthorID)
	}
	return nil
}

func (d *Directory) upsert(conv domain.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.conversations {
		if d.conversations[i].ID == conv.ID {
			d.conversations[i] = conv
			return
		}
	}
	d.conversations = append([]domain.Conversation{conv}, d.conversations...)
}
