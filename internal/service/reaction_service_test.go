package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
)

func newReactionFixture() (*ReactionService, *stubMessageRepo, *stubConvRepo, *capturingFeed) {
	msgRepo := newStubMessageRepo()
	convRepo := newStubConvRepo()
	f := &capturingFeed{}
	svc := NewReactionService(msgRepo, convRepo, &stubReactionRepo{}, newStubReceiptRepo(), f)
	return svc, msgRepo, convRepo, f
}

func seedMessage(msgRepo *stubMessageRepo, convRepo *stubConvRepo, authorID, readerID uuid.UUID) *domain.Message {
	channelID := uuid.New()
	convRepo.addMember(channelID, authorID, false)
	convRepo.addMember(channelID, readerID, false)
	content := "m"
	msg := &domain.Message{ID: uuid.New(), ChannelID: channelID, AuthorID: authorID, Content: &content, CreatedAt: time.Now()}
	msgRepo.msgs[msg.ID] = msg
	return msg
}

func TestTogglePublishesResultingState(t *testing.T) {
	svc, msgRepo, convRepo, f := newReactionFixture()
	author := uuid.New()
	reactor := uuid.New()
	msg := seedMessage(msgRepo, convRepo, author, reactor)

	added, err := svc.Toggle(context.Background(), reactor, msg.ID, "👍")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !added {
		t.Fatal("first toggle must add")
	}

	removed, err := svc.Toggle(context.Background(), reactor, msg.ID, "👍")
	if err != nil {
		t.Fatalf("toggle again: %v", err)
	}
	if removed {
		t.Fatal("second toggle must remove")
	}

	events := f.published()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first, _ := decodePayload[feed.ReactionPayload](events[0])
	second, _ := decodePayload[feed.ReactionPayload](events[1])
	if !first.Added || second.Added {
		t.Fatalf("events must carry resulting state: %v then %v", first.Added, second.Added)
	}
}

func TestToggleUnknownMessage(t *testing.T) {
	svc, _, _, _ := newReactionFixture()

	_, err := svc.Toggle(context.Background(), uuid.New(), uuid.New(), "👍")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMarkReadSkipsAuthor(t *testing.T) {
	svc, msgRepo, convRepo, f := newReactionFixture()
	author := uuid.New()
	msg := seedMessage(msgRepo, convRepo, author, uuid.New())

	if err := svc.MarkRead(context.Background(), author, msg.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(f.published()) != 0 {
		t.Fatal("author reads must not publish receipts")
	}
}

func TestMarkReadOnceAndOnlyOnce(t *testing.T) {
	svc, msgRepo, convRepo, f := newReactionFixture()
	author := uuid.New()
	reader := uuid.New()
	msg := seedMessage(msgRepo, convRepo, author, reader)

	if err := svc.MarkRead(context.Background(), reader, msg.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := svc.MarkRead(context.Background(), reader, msg.ID); err != nil {
		t.Fatalf("mark read again: %v", err)
	}

	events := f.published()
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 receipt event, got %d", len(events))
	}
	if events[0].Kind != feed.KindReceiptAdded {
		t.Fatalf("unexpected event kind %s", events[0].Kind)
	}
}
