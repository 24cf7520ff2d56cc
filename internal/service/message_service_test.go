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

func newMessageFixture() (*MessageService, *stubMessageRepo, *stubConvRepo, *capturingFeed) {
	msgRepo := newStubMessageRepo()
	convRepo := newStubConvRepo()
	f := &capturingFeed{}
	svc := NewMessageService(msgRepo, convRepo, &stubReactionRepo{}, newStubReceiptRepo(), f, &stubBlobStore{})
	return svc, msgRepo, convRepo, f
}

func TestSendPublishesWithClientKey(t *testing.T) {
	svc, _, convRepo, f := newMessageFixture()

	channelID := uuid.New()
	userID := uuid.New()
	convRepo.addMember(channelID, userID, false)

	clientKey := uuid.New()
	msg, err := svc.Send(context.Background(), userID, channelID, SendMessageInput{
		Content:   "hello",
		ClientKey: clientKey,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	events := f.published()
	if len(events) != 1 || events[0].Kind != feed.KindMessageNew {
		t.Fatalf("expected one message.new event, got %v", events)
	}
	payload, err := decodePayload[feed.MessagePayload](events[0])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ClientKey != clientKey {
		t.Fatalf("event client key %s, want %s", payload.ClientKey, clientKey)
	}
	if payload.Message.ID != msg.ID {
		t.Fatalf("event message id %s, want %s", payload.Message.ID, msg.ID)
	}
}

func TestSendRejectsEmpty(t *testing.T) {
	svc, _, convRepo, f := newMessageFixture()

	channelID := uuid.New()
	userID := uuid.New()
	convRepo.addMember(channelID, userID, false)

	_, err := svc.Send(context.Background(), userID, channelID, SendMessageInput{Content: "  "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if len(f.published()) != 0 {
		t.Fatal("rejected send must not publish")
	}
}

func TestSendRejectsNonMember(t *testing.T) {
	svc, _, _, _ := newMessageFixture()

	_, err := svc.Send(context.Background(), uuid.New(), uuid.New(), SendMessageInput{Content: "hi"})
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestSendDenormalizesReplyPreview(t *testing.T) {
	svc, msgRepo, convRepo, _ := newMessageFixture()

	channelID := uuid.New()
	author := uuid.New()
	replier := uuid.New()
	convRepo.addMember(channelID, author, false)
	convRepo.addMember(channelID, replier, false)

	original := "the plan"
	target := &domain.Message{
		ID:                uuid.New(),
		ChannelID:         channelID,
		AuthorID:          author,
		Content:           &original,
		AuthorDisplayName: "Ana",
		CreatedAt:         time.Now(),
	}
	msgRepo.msgs[target.ID] = target

	msg, err := svc.Send(context.Background(), replier, channelID, SendMessageInput{
		Content:   "sounds good",
		ReplyToID: &target.ID,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ReplyPreview == nil {
		t.Fatal("expected denormalized reply preview")
	}
	if msg.ReplyPreview.AuthorName != "Ana" || *msg.ReplyPreview.Content != original {
		t.Fatalf("unexpected preview: %+v", msg.ReplyPreview)
	}
}

func TestSendRejectsReplyAcrossChannels(t *testing.T) {
	svc, msgRepo, convRepo, _ := newMessageFixture()

	channelID := uuid.New()
	userID := uuid.New()
	convRepo.addMember(channelID, userID, false)

	elsewhere := &domain.Message{ID: uuid.New(), ChannelID: uuid.New(), AuthorID: uuid.New(), CreatedAt: time.Now()}
	msgRepo.msgs[elsewhere.ID] = elsewhere

	_, err := svc.Send(context.Background(), userID, channelID, SendMessageInput{
		Content:   "hi",
		ReplyToID: &elsewhere.ID,
	})
	if !errors.Is(err, ErrReplyNotFound) {
		t.Fatalf("expected ErrReplyNotFound, got %v", err)
	}
}

func TestDeleteAuthorOnly(t *testing.T) {
	svc, msgRepo, convRepo, f := newMessageFixture()

	channelID := uuid.New()
	author := uuid.New()
	other := uuid.New()
	convRepo.addMember(channelID, author, false)
	convRepo.addMember(channelID, other, false)

	content := "mine"
	msg := &domain.Message{ID: uuid.New(), ChannelID: channelID, AuthorID: author, Content: &content, CreatedAt: time.Now()}
	msgRepo.msgs[msg.ID] = msg

	if err := svc.Delete(context.Background(), other, msg.ID); !errors.Is(err, ErrNotMessageOwner) {
		t.Fatalf("expected ErrNotMessageOwner, got %v", err)
	}

	if err := svc.Delete(context.Background(), author, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := f.published()
	if len(events) != 1 || events[0].Kind != feed.KindMessageDeleted {
		t.Fatalf("expected one message.deleted event, got %v", events)
	}
}

func TestDeleteRemovesAttachment(t *testing.T) {
	msgRepo := newStubMessageRepo()
	convRepo := newStubConvRepo()
	blobs := &stubBlobStore{}
	svc := NewMessageService(msgRepo, convRepo, &stubReactionRepo{}, newStubReceiptRepo(), &capturingFeed{}, blobs)

	channelID := uuid.New()
	author := uuid.New()
	convRepo.addMember(channelID, author, false)

	imageURL := "https://blobs.test/pic.png"
	msg := &domain.Message{ID: uuid.New(), ChannelID: channelID, AuthorID: author, ImageURL: &imageURL, CreatedAt: time.Now()}
	msgRepo.msgs[msg.ID] = msg

	if err := svc.Delete(context.Background(), author, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != imageURL {
		t.Fatalf("expected attachment %s deleted, got %v", imageURL, blobs.deleted)
	}
}

func TestListReportsHasMore(t *testing.T) {
	svc, msgRepo, convRepo, _ := newMessageFixture()

	channelID := uuid.New()
	userID := uuid.New()
	convRepo.addMember(channelID, userID, false)

	content := "m"
	for i := 0; i < 3; i++ {
		msgRepo.page = append(msgRepo.page, domain.Message{
			ID:        uuid.New(),
			ChannelID: channelID,
			AuthorID:  userID,
			Content:   &content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	resp, err := svc.List(context.Background(), userID, channelID, nil, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !resp.HasMore {
		t.Fatal("expected has_more with an older page available")
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
}
