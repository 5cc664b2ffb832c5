package chatws

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
	"github.com/fitzone-app/FitZoneBack/internal/services"
	"github.com/fitzone-app/FitZoneBack/internal/typing"
)

type chatService interface {
	GetConversation(ctx context.Context, actorID int64, role string, conversationID int64) (*models.Conversation, string, error)
	SendMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string) (*services.ChatDelivery, error)
}

type readReceipts interface {
	MarkConversationRead(ctx context.Context, conversation *models.Conversation, viewerID int64) (bool, error)
}

type typingSink interface {
	Set(ctx context.Context, signal typing.Signal) error
}

type refreshSubscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, event refresh.Event)) error
}

type selfNamer interface {
	ResolveSelfName(ctx context.Context, userID int64, role string) string
}

// Hub fans chat events out to connected clients, keyed by user id. One user
// may hold several connections (phone and desktop); each gets every event.
// While a user is connected the hub also watches their refresh inbox, so
// appends and read-marks from any origin (REST, another server) reach their
// open views without polling.
type Hub struct {
	chat       chatService
	receipts   readReceipts
	typing     typingSink
	names      selfNamer
	refreshBus refreshSubscriber
	logger     *zap.Logger

	clients    map[string]map[*Client]struct{}
	watchers   map[string]context.CancelFunc
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	id     string
	userID string
	send   chan []byte

	// one typing countdown per conversation this connection types in
	typingPubs map[int64]*typing.Publisher
}

// Event is the wire frame for both directions. Inbound types:
// message, typing:start, typing:stop, read. Outbound: message, typing,
// read, refresh, error.
type Event struct {
	Type           string `json:"type"`
	Kind           string `json:"kind,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
	Content        string `json:"content,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
	IsTyping       bool   `json:"is_typing,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

func NewHub(
	chat chatService,
	receipts readReceipts,
	typingStore typingSink,
	names selfNamer,
	refreshBus refreshSubscriber,
	logger *zap.Logger,
) *Hub {
	return &Hub{
		chat:       chat,
		receipts:   receipts,
		typing:     typingStore,
		names:      names,
		refreshBus: refreshBus,
		logger:     logger,
		clients:    make(map[string]map[*Client]struct{}),
		watchers:   make(map[string]context.CancelFunc),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		id:         uuid.NewString(),
		userID:     userID,
		send:       make(chan []byte, 32),
		typingPubs: make(map[int64]*typing.Publisher),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
				h.startInboxWatcher(client.userID)
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
				h.stopInboxWatcher(client.userID)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) deliver(event *Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("chat hub encode event failed", zap.Error(err))
		return
	}

	h.sendToUser(event.SenderID, encoded)
	if event.RecipientID != "" && event.RecipientID != event.SenderID {
		h.sendToUser(event.RecipientID, encoded)
	}
}

func (h *Hub) sendToUser(userID string, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
		h.stopInboxWatcher(userID)
	}
}

// startInboxWatcher and stopInboxWatcher run on the hub loop only.
func (h *Hub) startInboxWatcher(userID string) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		h.logger.Warn("inbox watcher skipped, invalid user id", zap.String("user_id", userID))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.watchers[userID] = cancel
	go h.watchInbox(ctx, userID, uid)
}

func (h *Hub) stopInboxWatcher(userID string) {
	if cancel, ok := h.watchers[userID]; ok {
		cancel()
		delete(h.watchers, userID)
	}
}

// watchInbox forwards the user's refresh events as websocket frames, so a
// message appended or marked read outside this socket still invalidates the
// user's open views. Re-subscribes on transport failure until the last of
// the user's connections goes away.
func (h *Hub) watchInbox(ctx context.Context, userID string, uid int64) {
	channels := []string{refresh.InboxChannel(uid)}
	for {
		err := h.refreshBus.Subscribe(ctx, channels, func(_ string, event refresh.Event) {
			h.broadcast <- &Event{
				Type:           "refresh",
				Kind:           event.Kind,
				ConversationID: strconv.FormatInt(event.ConversationID, 10),
				SenderID:       userID,
			}
		})
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("inbox subscription dropped",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Client) ReadPump(role string) {
	defer func() {
		c.teardownTyping()
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	actorID, err := strconv.ParseInt(c.userID, 10, 64)
	if err != nil {
		c.writeError("invalid user")
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var incoming Event
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.writeError("invalid message payload")
			continue
		}

		conversationID, err := strconv.ParseInt(incoming.ConversationID, 10, 64)
		if err != nil || conversationID <= 0 {
			c.writeError("invalid conversation id")
			continue
		}

		switch incoming.Type {
		case "message":
			c.handleSend(actorID, role, conversationID, incoming.Content)
		case "typing:start":
			c.handleTyping(actorID, role, conversationID, true)
		case "typing:stop":
			c.handleTyping(actorID, role, conversationID, false)
		case "read":
			c.handleRead(actorID, role, conversationID)
		default:
			c.writeError("unsupported message type")
		}
	}
}

func (c *Client) handleSend(actorID int64, role string, conversationID int64, content string) {
	delivery, err := c.hub.chat.SendMessage(context.Background(), actorID, role, conversationID, content)
	if err != nil {
		c.writeError("failed to send message")
		return
	}

	// Sending implies the composer is done typing.
	if pub, ok := c.typingPubs[conversationID]; ok {
		if err := pub.Stop(context.Background()); err != nil {
			c.hub.logger.Warn("typing stop after send failed", zap.Error(err))
		}
	}

	c.hub.broadcast <- &Event{
		Type:           "message",
		ConversationID: strconv.FormatInt(delivery.Message.ConversationID, 10),
		SenderID:       strconv.FormatInt(delivery.Message.SenderID, 10),
		RecipientID:    strconv.FormatInt(delivery.RecipientID, 10),
		Content:        delivery.Message.Content,
		Timestamp:      services.FormatChatTimestamp(delivery.Message.SentAt),
	}
}

func (c *Client) handleTyping(actorID int64, role string, conversationID int64, isTyping bool) {
	conversation, _, err := c.hub.chat.GetConversation(context.Background(), actorID, role, conversationID)
	if err != nil {
		c.writeError("conversation not found")
		return
	}

	pub, ok := c.typingPubs[conversationID]
	if !ok {
		displayName := c.hub.names.ResolveSelfName(context.Background(), actorID, role)
		pub = typing.NewPublisher(c.hub.typing, conversationID, actorID, displayName, 0, c.hub.logger)
		c.typingPubs[conversationID] = pub
	}

	if isTyping {
		err = pub.Keystroke(context.Background())
	} else {
		err = pub.Stop(context.Background())
	}
	if err != nil {
		c.hub.logger.Warn("typing publish failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}

	c.hub.broadcast <- &Event{
		Type:           "typing",
		ConversationID: strconv.FormatInt(conversationID, 10),
		SenderID:       strconv.FormatInt(actorID, 10),
		RecipientID:    strconv.FormatInt(conversation.OtherParty(actorID), 10),
		DisplayName:    c.hub.names.ResolveSelfName(context.Background(), actorID, role),
		IsTyping:       isTyping,
		Timestamp:      services.FormatChatTimestamp(time.Now().UTC()),
	}
}

func (c *Client) handleRead(actorID int64, role string, conversationID int64) {
	conversation, _, err := c.hub.chat.GetConversation(context.Background(), actorID, role, conversationID)
	if err != nil {
		c.writeError("conversation not found")
		return
	}

	changed, err := c.hub.receipts.MarkConversationRead(context.Background(), conversation, actorID)
	if err != nil {
		c.hub.logger.Warn("mark conversation read failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	if !changed {
		return
	}

	c.hub.broadcast <- &Event{
		Type:           "read",
		ConversationID: strconv.FormatInt(conversationID, 10),
		SenderID:       strconv.FormatInt(actorID, 10),
		RecipientID:    strconv.FormatInt(conversation.OtherParty(actorID), 10),
		Timestamp:      services.FormatChatTimestamp(time.Now().UTC()),
	}
}

// teardownTyping emits the cleanup stop for every conversation this
// connection was typing in, so no signal outlives the socket.
func (c *Client) teardownTyping() {
	for conversationID, pub := range c.typingPubs {
		if err := pub.Close(context.Background()); err != nil {
			c.hub.logger.Warn("typing cleanup failed",
				zap.Int64("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}
}

func (c *Client) WritePump() {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.Close()
}

func (c *Client) writeError(message string) {
	payload, err := json.Marshal(Event{
		Type:      "error",
		Content:   message,
		Timestamp: services.FormatChatTimestamp(time.Now().UTC()),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.Unregister(c)
	}
}
