package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
	"github.com/velickovic/clubchat/internal/repository"
	"github.com/velickovic/clubchat/internal/storage"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotMessageOwner = errors.New("only the message author can perform this action")
	ErrEmptyMessage    = errors.New("message needs text or an image")
	ErrReplyNotFound   = errors.New("replied-to message not found")
)

type MessageService struct {
	messageRepo  repository.MessageRepository
	convRepo     repository.ConversationRepository
	reactionRepo repository.ReactionRepository
	receiptRepo  repository.ReceiptRepository
	feed         feed.Feed
	blobs        storage.BlobStore
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	reactionRepo repository.ReactionRepository,
	receiptRepo repository.ReceiptRepository,
	f feed.Feed,
	blobs storage.BlobStore,
) *MessageService {
	return &MessageService{
		messageRepo:  messageRepo,
		convRepo:     convRepo,
		reactionRepo: reactionRepo,
		receiptRepo:  receiptRepo,
		feed:         f,
		blobs:        blobs,
	}
}

type SendMessageInput struct {
	Content   string     `json:"content"`
	ImageURL  *string    `json:"image_url,omitempty"`
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
	// ClientKey correlates the authoritative message and its feed echo with
	// the sender's optimistic entry.
	ClientKey uuid.UUID `json:"client_key"`
}

type MessageListResponse struct {
	Messages  []domain.Message                    `json:"messages"`
	HasMore   bool                                `json:"has_more"`
	Summaries map[uuid.UUID]domain.MessageSummary `json:"summaries"`
}

// Send validates and persists a message, then publishes it on the channel's
// feed. The reply preview is denormalized at send time so it survives later
// deletion of the replied-to message.
func (s *MessageService) Send(ctx context.Context, userID, channelID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" && input.ImageURL == nil {
		return nil, ErrEmptyMessage
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  userID,
		ImageURL:  input.ImageURL,
		CreatedAt: time.Now(),
	}
	if content != "" {
		msg.Content = &content
	}

	if input.ReplyToID != nil {
		preview, err := s.replyPreview(ctx, channelID, *input.ReplyToID)
		if err != nil {
			return nil, err
		}
		msg.ReplyToID = input.ReplyToID
		msg.ReplyPreview = preview
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, feed.KindMessageNew, channelID, feed.MessagePayload{
		Message:   *full,
		ClientKey: input.ClientKey,
	})

	return full, nil
}

// List returns a page of the channel's timeline in chronological order, with
// reaction and read-receipt summaries for the page.
func (s *MessageService) List(ctx context.Context, userID, channelID uuid.UUID, before *uuid.UUID, limit int) (*MessageListResponse, error) {
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	// Fetch limit+1 to learn whether an older page exists.
	messages, err := s.messageRepo.ListPage(ctx, channelID, before, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	summaries, err := s.summarize(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &MessageListResponse{
		Messages:  messages,
		HasMore:   hasMore,
		Summaries: summaries,
	}, nil
}

// Delete soft-deletes the author's own message and announces the removal.
// Denormalized reply previews pointing at it are left untouched.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.AuthorID != userID {
		return ErrNotMessageOwner
	}

	if err := s.messageRepo.SoftDelete(ctx, messageID); err != nil {
		return err
	}

	// Best effort: the row is gone either way, a stale blob just wastes
	// storage. Reply previews keep their denormalized copy of the URL.
	if msg.ImageURL != nil {
		if err := s.blobs.Delete(ctx, *msg.ImageURL); err != nil {
			log.Printf("ERROR deleting attachment for %s: %v", messageID, err)
		}
	}

	s.publish(ctx, feed.KindMessageDeleted, msg.ChannelID, feed.MessageDeletedPayload{MessageID: messageID})
	return nil
}

func (s *MessageService) replyPreview(ctx context.Context, channelID, replyToID uuid.UUID) (*domain.ReplyPreview, error) {
	target, err := s.messageRepo.GetByID(ctx, replyToID)
	if err != nil {
		return nil, err
	}
	if target == nil || target.ChannelID != channelID {
		return nil, ErrReplyNotFound
	}
	return &domain.ReplyPreview{
		AuthorName: target.AuthorDisplayName,
		Content:    target.Content,
		ImageURL:   target.ImageURL,
	}, nil
}

func (s *MessageService) summarize(ctx context.Context, messages []domain.Message) (map[uuid.UUID]domain.MessageSummary, error) {
	ids := make([]uuid.UUID, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}

	summaries := make(map[uuid.UUID]domain.MessageSummary, len(ids))
	if len(ids) == 0 {
		return summaries, nil
	}

	reactions, err := s.reactionRepo.ListForMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	receipts, err := s.receiptRepo.ListForMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if len(reactions[id]) == 0 && len(receipts[id]) == 0 {
			continue
		}
		summaries[id] = domain.MessageSummary{
			Reactions: reactions[id],
			ReadBy:    receipts[id],
		}
	}
	return summaries, nil
}

func (s *MessageService) requireMember(ctx context.Context, channelID, userID uuid.UUID) error {
	member, err := s.convRepo.GetMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return ErrNotMember
	}
	return nil
}

// publish happens after the write committed; a feed failure loses the live
// notification but never the message, so it is logged and swallowed.
func (s *MessageService) publish(ctx context.Context, kind feed.Kind, channelID uuid.UUID, payload any) {
	ev, err := feed.NewEvent(kind, channelID, payload)
	if err != nil {
		log.Printf("ERROR encoding %s event: %v", kind, err)
		return
	}
	if _, err := s.feed.Publish(ctx, ev); err != nil {
		log.Printf("ERROR publishing %s event: %v", kind, err)
	}
}
