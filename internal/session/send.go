package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/storage"
)

var (
	ErrEmptyMessage = errors.New("message needs text or an image")
	// ErrAttachmentUpload marks a failed image upload. If the draft had text
	// the message is still sent without the image and Send returns it
	// together with this error; with no text the whole send is aborted.
	ErrAttachmentUpload = errors.New("attachment upload failed")
	ErrSendFailed       = errors.New("message could not be sent")
)

const defaultSendTimeout = 15 * time.Second

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Draft struct {
	Content   string
	Image     *Attachment
	ReplyToID *uuid.UUID
}

// AuthoritativeDraft is what goes to the persistence collaborator. The
// client key travels with it so the committed event can be correlated back
// to the pending entry.
type AuthoritativeDraft struct {
	Content   *string    `json:"content,omitempty"`
	ImageURL  *string    `json:"image_url,omitempty"`
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
	ClientKey uuid.UUID  `json:"client_key"`
}

// MessageWriter performs the authoritative write and returns the
// server-assigned row.
type MessageWriter interface {
	CreateMessage(ctx context.Context, channelID uuid.UUID, draft AuthoritativeDraft) (*domain.Message, error)
}

// Sender runs the optimistic send pipeline for one channel: upload the
// image if any, show a pending entry immediately, write the authoritative
// row, then reconcile or roll back. Sends are not queued; concurrent calls
// each carry their own client key and reconcile independently.
type Sender struct {
	user    domain.User
	stream  *Stream
	blobs   storage.BlobStore
	writer  MessageWriter
	timeout time.Duration
	now     func() time.Time
}

func NewSender(user domain.User, stream *Stream, blobs storage.BlobStore, writer MessageWriter) *Sender {
	return &Sender{
		user:    user,
		stream:  stream,
		blobs:   blobs,
		writer:  writer,
		timeout: defaultSendTimeout,
		now:     time.Now,
	}
}

func (s *Sender) Send(ctx context.Context, draft Draft) (*domain.Message, error) {
	content := strings.TrimSpace(draft.Content)
	if content == "" && draft.Image == nil {
		return nil, ErrEmptyMessage
	}

	var imageURL *string
	var uploadErr error
	if draft.Image != nil {
		url, err := s.uploadImage(ctx, draft.Image)
		if err != nil {
			if content == "" {
				// Nothing to fall back to; no pending entry was created.
				return nil, fmt.Errorf("%w: %v", ErrAttachmentUpload, err)
			}
			uploadErr = err
		} else {
			imageURL = &url
		}
	}

	clientKey := uuid.New()
	now := s.now()

	pending := domain.Message{
		ID:                clientKey, // provisional, replaced on reconciliation
		ChannelID:         s.stream.ChannelID(),
		AuthorID:          s.user.ID,
		ImageURL:          imageURL,
		ReplyToID:         draft.ReplyToID,
		CreatedAt:         now,
		AuthorUsername:    s.user.Username,
		AuthorDisplayName: s.user.DisplayName,
		AuthorAvatarURL:   s.user.AvatarURL,
	}
	var contentPtr *string
	if content != "" {
		contentPtr = &content
	}
	pending.Content = contentPtr

	s.stream.AppendPending(pending, clientKey)

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.writer.CreateMessage(writeCtx, s.stream.ChannelID(), AuthoritativeDraft{
		Content:   contentPtr,
		ImageURL:  imageURL,
		ReplyToID: draft.ReplyToID,
		ClientKey: clientKey,
	})
	if err != nil {
		s.stream.RemovePending(clientKey)
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.stream.Reconcile(clientKey, *msg)

	if uploadErr != nil {
		return msg, fmt.Errorf("%w: sent without image: %v", ErrAttachmentUpload, uploadErr)
	}
	return msg, nil
}

func (s *Sender) uploadImage(ctx context.Context, img *Attachment) (string, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	path := fmt.Sprintf("%s/%d-%s", s.user.ID, s.now().UnixMilli(), img.Name)
	return s.blobs.Upload(uploadCtx, path, img.Data, img.ContentType)
}
