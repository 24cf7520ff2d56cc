package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/service"
	"github.com/velickovic/clubchat/internal/session"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8080", "server address")
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "account password")
	register := flag.Bool("register", false, "register a new account first")
	username := flag.String("username", "", "username (register only)")
	displayName := flag.String("name", "", "display name (register only)")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("email and password are required")
	}

	api := newAPIClient(*apiAddr)

	var auth *service.AuthResponse
	var err error
	if *register {
		auth, err = api.registerAccount(*email, *username, *displayName, *password)
	} else {
		auth, err = api.login(*email, *password)
	}
	if err != nil {
		log.Fatal(err)
	}
	api.token = auth.AccessToken
	user := *auth.User
	log.Printf("Logged in as %s", user.Username)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Live events arrive over one websocket; the session syncer treats it as
	// the channel feed. Typing signals ride the same socket but bypass the
	// feed and land straight in the registry.
	dir := newDirectoryShell(ctx, api, user)
	defer dir.close()

	if err := dir.session.Refresh(ctx); err != nil {
		log.Printf("loading conversations: %v", err)
	}

	fmt.Println("commands: /ls /open N /dm USER /group NAME USER... /show /react N EMOJI /img PATH [TEXT] /del N /typing /quit")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" {
			return
		}
		dir.handleLine(ctx, line)
		fmt.Print("> ")
	}
}

// directoryShell owns the interactive state: the session directory, the
// websocket feed behind its syncer, and the per-channel sender.
type directoryShell struct {
	api     *apiClient
	user    domain.User
	feed    *wsFeed
	syncer  *session.Syncer
	session *session.Directory
	typing  *session.TypingAnnouncer
	sender  *session.Sender
	listing []domain.Conversation
}

func newDirectoryShell(ctx context.Context, api *apiClient, user domain.User) *directoryShell {
	d := &directoryShell{api: api, user: user}

	d.feed = newWSFeed(ctx, api.wsURL(), d.onForeignEvent)
	d.syncer = session.NewSyncer(d.feed)
	d.session = session.NewDirectory(api, api, d.syncer)
	d.typing = session.NewTypingAnnouncer(
		func(channelID uuid.UUID) { d.feed.sendTyping(channelID, true) },
		func(channelID uuid.UUID) { d.feed.sendTyping(channelID, false) },
	)
	go d.session.Typing().Run(ctx)
	return d
}

func (d *directoryShell) close() {
	d.syncer.Close()
	d.feed.close()
}

// onForeignEvent handles socket traffic that is not feed traffic: typing
// signals are kept in the registry so /show can render the live set.
func (d *directoryShell) onForeignEvent(eventType string, channelID uuid.UUID, payload json.RawMessage) {
	var p struct {
		UserID      uuid.UUID `json:"user_id"`
		DisplayName string    `json:"display_name"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	switch eventType {
	case "typing":
		d.session.Typing().Observe(domain.TypingSignal{
			ChannelID:   channelID,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
		})
	case "typing.stopped":
		d.session.Typing().Stop(channelID, p.UserID)
	}
}

func (d *directoryShell) handleLine(ctx context.Context, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/ls":
		d.printConversations(ctx)
	case "/open":
		d.open(ctx, fields[1:])
	case "/dm":
		d.startDirect(ctx, fields[1:])
	case "/group":
		d.createGroup(ctx, fields[1:])
	case "/show":
		d.show()
	case "/react":
		d.react(ctx, fields[1:])
	case "/img":
		d.sendImage(ctx, fields[1:])
	case "/del":
		d.deleteMessage(ctx, fields[1:])
	case "/typing":
		if ch := d.session.Selected(); ch != uuid.Nil {
			d.typing.Announce(ch)
		}
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Println("unknown command")
			return
		}
		d.send(ctx, session.Draft{Content: line})
	}
}

func (d *directoryShell) printConversations(ctx context.Context) {
	if err := d.session.Refresh(ctx); err != nil {
		fmt.Println("error:", err)
		return
	}
	d.listing = d.session.List()
	for i, conv := range d.listing {
		name := "(direct)"
		if conv.Name != nil {
			name = *conv.Name
		} else if conv.Peer != nil {
			name = "@" + conv.Peer.Username
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", conv.UnreadCount)
		}
		fmt.Printf("%2d. %s%s\n", i+1, name, unread)
	}
}

func (d *directoryShell) open(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: /open N")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(d.listing) {
		fmt.Println("no such conversation, run /ls first")
		return
	}
	d.selectChannel(ctx, d.listing[n-1].ID)
}

func (d *directoryShell) selectChannel(ctx context.Context, channelID uuid.UUID) {
	view, err := d.session.Select(ctx, channelID)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d.sender = session.NewSender(d.user, view.Stream, d.api, d.api)
	d.markVisible(ctx, view)
	d.show()
}

func (d *directoryShell) startDirect(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: /dm USERNAME")
		return
	}
	peer, err := d.api.lookupUser(ctx, args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	conv, err := d.session.StartDirect(ctx, peer.ID)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d.selectChannel(ctx, conv.ID)
}

func (d *directoryShell) createGroup(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: /group NAME [USERNAME...]")
		return
	}
	var memberIDs []uuid.UUID
	for _, name := range args[1:] {
		member, err := d.api.lookupUser(ctx, name)
		if err != nil {
			fmt.Printf("skipping %s: %v\n", name, err)
			continue
		}
		memberIDs = append(memberIDs, member.ID)
	}
	conv, err := d.session.CreateGroup(ctx, args[0], memberIDs)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d.selectChannel(ctx, conv.ID)
}

// show renders the selected timeline with grouping applied: grouped
// messages drop the author header, like a chat UI would.
func (d *directoryShell) show() {
	view, ok := d.session.View(d.session.Selected())
	if !ok {
		fmt.Println("no conversation selected")
		return
	}

	entries := view.Stream.List()
	ordered := make([]domain.Message, len(entries))
	for i := range entries {
		ordered[i] = entries[i].Message
	}
	hints := session.GroupingHints(ordered)

	for i, entry := range entries {
		if !hints[i].GroupedWithPrevious {
			fmt.Printf("--- %s at %s ---\n", entry.AuthorDisplayName, entry.CreatedAt.Format("15:04"))
		}
		body := ""
		if entry.Content != nil {
			body = *entry.Content
		}
		if entry.ImageURL != nil {
			body = strings.TrimSpace(body + " [image: " + *entry.ImageURL + "]")
		}
		if entry.ReplyPreview != nil {
			preview := ""
			if entry.ReplyPreview.Content != nil {
				preview = *entry.ReplyPreview.Content
			}
			fmt.Printf("   ↳ %s: %s\n", entry.ReplyPreview.AuthorName, preview)
		}
		marker := ""
		if entry.Pending {
			marker = " (sending)"
		}
		fmt.Printf("%2d. %s%s\n", i+1, body, marker)

		summary := view.Summaries.SummaryOf(entry.ID)
		for _, group := range summary.Reactions {
			fmt.Printf("    %s ×%d\n", group.Emoji, group.Count)
		}
		if len(summary.ReadBy) > 0 {
			fmt.Printf("    seen by %d\n", len(summary.ReadBy))
		}
	}

	if text := session.TypingText(d.session.Typing().TypingUsers(d.session.Selected())); text != "" {
		fmt.Println(text + "...")
	}
}

func (d *directoryShell) send(ctx context.Context, draft session.Draft) {
	if d.sender == nil {
		fmt.Println("no conversation selected")
		return
	}
	d.typing.Stopped(d.session.Selected())
	if _, err := d.sender.Send(ctx, draft); err != nil {
		fmt.Println("error:", err)
	}
}

func (d *directoryShell) sendImage(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: /img PATH [TEXT]")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d.send(ctx, session.Draft{
		Content: strings.Join(args[1:], " "),
		Image: &session.Attachment{
			Name:        filepath.Base(args[0]),
			ContentType: http.DetectContentType(data),
			Data:        data,
		},
	})
}

func (d *directoryShell) react(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: /react N EMOJI")
		return
	}
	entry, ok := d.entryAt(args[0])
	if !ok {
		return
	}
	if err := d.api.toggleReaction(ctx, entry.ID, args[1]); err != nil {
		fmt.Println("error:", err)
	}
}

func (d *directoryShell) deleteMessage(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: /del N")
		return
	}
	entry, ok := d.entryAt(args[0])
	if !ok {
		return
	}
	if err := d.api.deleteMessage(ctx, entry.ID); err != nil {
		fmt.Println("error:", err)
	}
}

func (d *directoryShell) entryAt(arg string) (session.Entry, bool) {
	view, ok := d.session.View(d.session.Selected())
	if !ok {
		fmt.Println("no conversation selected")
		return session.Entry{}, false
	}
	entries := view.Stream.List()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(entries) {
		fmt.Println("no such message, run /show first")
		return session.Entry{}, false
	}
	return entries[n-1], true
}

// markVisible sends read receipts for everything currently on screen.
func (d *directoryShell) markVisible(ctx context.Context, view *session.ChannelView) {
	for _, entry := range view.Stream.List() {
		if entry.AuthorID == d.user.ID || entry.Pending {
			continue
		}
		if err := d.api.markRead(ctx, entry.ID); err != nil {
			log.Printf("mark read %s: %v", entry.ID, err)
		}
	}
}

// --- HTTP API client ---

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) wsURL() string {
	url := strings.Replace(c.base, "http", "ws", 1)
	return url + "/ws?token=" + c.token
}

func (c *apiClient) login(email, password string) (*service.AuthResponse, error) {
	var resp service.AuthResponse
	err := c.do(context.Background(), http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &resp, nil
}

func (c *apiClient) registerAccount(email, username, displayName, password string) (*service.AuthResponse, error) {
	var resp service.AuthResponse
	err := c.do(context.Background(), http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":        email,
		"username":     username,
		"display_name": displayName,
		"password":     password,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &resp, nil
}

func (c *apiClient) lookupUser(ctx context.Context, username string) (*domain.User, error) {
	var resp struct {
		User *domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/users?username="+username, nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// ListConversations implements session.DirectoryAPI.
func (c *apiClient) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var resp struct {
		Conversations []domain.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// StartDirect implements session.DirectoryAPI.
func (c *apiClient) StartDirect(ctx context.Context, peerID uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.do(ctx, http.MethodPost, "/api/v1/conversations/direct",
		map[string]uuid.UUID{"peer_id": peerID}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateGroup implements session.DirectoryAPI.
func (c *apiClient) CreateGroup(ctx context.Context, name string, memberIDs []uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.do(ctx, http.MethodPost, "/api/v1/conversations/groups",
		map[string]any{"name": name, "member_ids": memberIDs}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages implements session.HistorySource.
func (c *apiClient) ListMessages(ctx context.Context, channelID uuid.UUID, limit int) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages?limit=%d", channelID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// CreateMessage implements session.MessageWriter.
func (c *apiClient) CreateMessage(ctx context.Context, channelID uuid.UUID, draft session.AuthoritativeDraft) (*domain.Message, error) {
	var msg domain.Message
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, draft, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *apiClient) toggleReaction(ctx context.Context, messageID uuid.UUID, emoji string) error {
	path := fmt.Sprintf("/api/v1/messages/%s/reactions", messageID)
	return c.do(ctx, http.MethodPost, path, map[string]string{"emoji": emoji}, nil)
}

func (c *apiClient) markRead(ctx context.Context, messageID uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/messages/%s/read", messageID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *apiClient) deleteMessage(ctx context.Context, messageID uuid.UUID) error {
	path := fmt.Sprintf("/api/v1/messages/%s", messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Upload implements storage.BlobStore by proxying through the server's
// upload endpoint; the path argument is ignored, the server picks its own.
func (c *apiClient) Upload(ctx context.Context, _ string, data []byte, contentType string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="upload"`},
		"Content-Type":        {contentType},
	})
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/uploads", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("upload: status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Delete implements storage.BlobStore; the client never removes blobs.
func (c *apiClient) Delete(context.Context, string) error { return nil }

func (c *apiClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
