package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

type stubBlobStore struct {
	url string
	err error
}

func (s *stubBlobStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url, nil
}

func (s *stubBlobStore) Delete(_ context.Context, fileURL string) error { return nil }

type stubWriter struct {
	err  error
	last AuthoritativeDraft
}

func (w *stubWriter) CreateMessage(_ context.Context, channelID uuid.UUID, draft AuthoritativeDraft) (*domain.Message, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.last = draft
	return &domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		Content:   draft.Content,
		ImageURL:  draft.ImageURL,
		ReplyToID: draft.ReplyToID,
		CreatedAt: time.Now(),
	}, nil
}

func newTestSender(stream *Stream, blobs *stubBlobStore, writer *stubWriter) *Sender {
	user := domain.User{ID: uuid.New(), Username: "ana", DisplayName: "Ana"}
	return NewSender(user, stream, blobs, writer)
}

func TestSendRejectsEmptyDraft(t *testing.T) {
	stream := NewStream(uuid.New())
	sender := newTestSender(stream, &stubBlobStore{}, &stubWriter{})

	_, err := sender.Send(context.Background(), Draft{Content: "   "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if stream.Len() != 0 {
		t.Fatal("empty draft must not touch the store")
	}
}

func TestSendAbortsWhenUploadFailsWithoutText(t *testing.T) {
	stream := NewStream(uuid.New())
	blobs := &stubBlobStore{err: errors.New("storage unreachable")}
	sender := newTestSender(stream, blobs, &stubWriter{})

	_, err := sender.Send(context.Background(), Draft{
		Image: &Attachment{Name: "cat.png", ContentType: "image/png", Data: []byte{1}},
	})
	if !errors.Is(err, ErrAttachmentUpload) {
		t.Fatalf("expected ErrAttachmentUpload, got %v", err)
	}
	if stream.Len() != 0 {
		t.Fatalf("aborted send left %d entries in the store", stream.Len())
	}
}

func TestSendFallsBackToTextWhenUploadFails(t *testing.T) {
	stream := NewStream(uuid.New())
	blobs := &stubBlobStore{err: errors.New("storage unreachable")}
	writer := &stubWriter{}
	sender := newTestSender(stream, blobs, writer)

	msg, err := sender.Send(context.Background(), Draft{
		Content: "look at this",
		Image:   &Attachment{Name: "cat.png", ContentType: "image/png", Data: []byte{1}},
	})
	if !errors.Is(err, ErrAttachmentUpload) {
		t.Fatalf("expected ErrAttachmentUpload alongside the message, got %v", err)
	}
	if msg == nil {
		t.Fatal("text must still be delivered when only the upload fails")
	}
	if writer.last.ImageURL != nil {
		t.Fatal("failed upload must not leave an image url on the write")
	}
	if stream.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", stream.Len())
	}
}

func TestSendRollsBackOnWriteFailure(t *testing.T) {
	stream := NewStream(uuid.New())
	writer := &stubWriter{err: errors.New("network down")}
	sender := newTestSender(stream, &stubBlobStore{}, writer)

	_, err := sender.Send(context.Background(), Draft{Content: "hello"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if stream.Len() != 0 {
		t.Fatalf("failed send left %d entries in the store", stream.Len())
	}
}

func TestSendReconcilesWithEcho(t *testing.T) {
	stream := NewStream(uuid.New())
	writer := &stubWriter{}
	sender := newTestSender(stream, &stubBlobStore{url: "https://blob/x.png"}, writer)

	msg, err := sender.Send(context.Background(), Draft{Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The same message later arrives through the realtime feed.
	stream.IngestRemote(*msg, writer.last.ClientKey)

	got := stream.List()
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 entry after echo, got %d", len(got))
	}
	if got[0].ID != msg.ID {
		t.Fatalf("entry id %s does not match server-assigned id %s", got[0].ID, msg.ID)
	}
}

func TestConcurrentSendsReconcileIndependently(t *testing.T) {
	stream := NewStream(uuid.New())
	writer := &stubWriter{}
	sender := newTestSender(stream, &stubBlobStore{}, writer)

	first, err := sender.Send(context.Background(), Draft{Content: "one"})
	if err != nil {
		t.Fatalf("send one: %v", err)
	}
	second, err := sender.Send(context.Background(), Draft{Content: "two"})
	if err != nil {
		t.Fatalf("send two: %v", err)
	}

	if first.ID == second.ID {
		t.Fatal("sends must get distinct server ids")
	}
	if stream.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", stream.Len())
	}
}

func TestSendUploadsImageAndKeepsURL(t *testing.T) {
	stream := NewStream(uuid.New())
	writer := &stubWriter{}
	sender := newTestSender(stream, &stubBlobStore{url: "https://blob/cat.png"}, writer)

	msg, err := sender.Send(context.Background(), Draft{
		Image: &Attachment{Name: "cat.png", ContentType: "image/png", Data: []byte{1, 2}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ImageURL == nil || *msg.ImageURL != "https://blob/cat.png" {
		t.Fatalf("expected resolved image url, got %v", msg.ImageURL)
	}
}
