package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
	"github.com/velickovic/clubchat/internal/repository"
)

// ReactionService handles per-user reaction toggles and read receipts. Both
// are announced on the channel feed with their resulting state, so duplicate
// delivery is safe to apply.
type ReactionService struct {
	messageRepo  repository.MessageRepository
	convRepo     repository.ConversationRepository
	reactionRepo repository.ReactionRepository
	receiptRepo  repository.ReceiptRepository
	feed         feed.Feed
}

func NewReactionService(
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	reactionRepo repository.ReactionRepository,
	receiptRepo repository.ReceiptRepository,
	f feed.Feed,
) *ReactionService {
	return &ReactionService{
		messageRepo:  messageRepo,
		convRepo:     convRepo,
		reactionRepo: reactionRepo,
		receiptRepo:  receiptRepo,
		feed:         f,
	}
}

// Toggle flips the user's reaction and reports whether it is now present.
// The database toggle is atomic, so two racing toggles settle on one state.
func (s *ReactionService) Toggle(ctx context.Context, userID, messageID uuid.UUID, emoji string) (bool, error) {
	msg, err := s.requireMessage(ctx, messageID, userID)
	if err != nil {
		return false, err
	}

	added, err := s.reactionRepo.Toggle(ctx, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("toggling reaction: %w", err)
	}

	s.publish(ctx, feed.KindReactionToggled, msg.ChannelID, feed.ReactionPayload{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		Added:     added,
	})
	return added, nil
}

// MarkRead records that the user has seen the message. Authors never produce
// receipts for their own messages, and repeats change nothing.
func (s *ReactionService) MarkRead(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.requireMessage(ctx, messageID, userID)
	if err != nil {
		return err
	}
	if msg.AuthorID == userID {
		return nil
	}

	readAt := time.Now()
	inserted, err := s.receiptRepo.MarkRead(ctx, messageID, userID, readAt)
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	if !inserted {
		return nil
	}

	s.publish(ctx, feed.KindReceiptAdded, msg.ChannelID, feed.ReceiptPayload{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    readAt,
	})
	return nil
}

func (s *ReactionService) requireMessage(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	member, err := s.convRepo.GetMember(ctx, msg.ChannelID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, ErrNotMember
	}
	return msg, nil
}

func (s *ReactionService) publish(ctx context.Context, kind feed.Kind, channelID uuid.UUID, payload any) {
	ev, err := feed.NewEvent(kind, channelID, payload)
	if err != nil {
		log.Printf("ERROR encoding %s event: %v", kind, err)
		return
	}
	if _, err := s.feed.Publish(ctx, ev); err != nil {
		log.Printf("ERROR publishing %s event: %v", kind, err)
	}
}
