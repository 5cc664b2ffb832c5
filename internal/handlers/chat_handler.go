package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/fitzone-app/FitZoneBack/internal/models"
	"github.com/fitzone-app/FitZoneBack/internal/services"
	"github.com/fitzone-app/FitZoneBack/internal/typing"
	chatws "github.com/fitzone-app/FitZoneBack/internal/websocket"
	"github.com/fitzone-app/FitZoneBack/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actorID int64, role string) ([]models.ConversationSummary, error)
	CreateConversation(ctx context.Context, actorID int64, role string, counterpart models.Counterpart) (*models.Conversation, error)
	ListMessages(ctx context.Context, actorID int64, role string, conversationID int64, page int, limit int) ([]models.ChatMessage, int, error)
	SendMessage(ctx context.Context, actorID int64, role string, conversationID int64, content string) (*services.ChatDelivery, error)
	UnreadTotal(ctx context.Context, actorID int64, role string) (int, error)
}

type typingLister interface {
	TypingUsers(ctx context.Context, conversationID, viewerID int64) ([]typing.TypingUser, error)
}

type ChatHandler struct {
	service   chatApplicationService
	typing    typingLister
	hub       *chatws.Hub
	jwtSecret string
}

type createConversationRequest struct {
	TrainerID int64 `json:"trainer_id"`
	Admin     bool  `json:"admin"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func NewChatHandler(service chatApplicationService, typingStore typingLister, hub *chatws.Hub, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		typing:    typingStore,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	viewerID, role, ok := viewerContext(c)
	if !ok {
		return nil
	}

	conversations, err := h.service.ListConversations(c.Context(), viewerID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"conversations": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	viewerID, role, ok := viewerContext(c)
	if !ok {
		return nil
	}

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	counterpart := models.Counterpart{TrainerID: req.TrainerID, Admin: req.Admin}
	conversation, err := h.service.CreateConversation(c.Context(), viewerID, role, counterpart)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	viewerID, role, ok := viewerContext(c)
	if !ok {
		return nil
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.ListMessages(c.Context(), viewerID, role, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	viewerID, role, ok := viewerContext(c)
	if !ok {
		return nil
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	delivery, err := h.service.SendMessage(c.Context(), viewerID, role, conversationID, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": delivery.Message})
}

// UnreadCount backs the inbox badge shown outside the chat pages.
func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	viewerID, role, ok := viewerContext(c)
	if !ok {
		return nil
	}

	total, err := h.service.UnreadTotal(c.Context(), viewerID, role)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"unread_count": total})
}

// GetTyping reports who is currently typing in a conversation, excluding
// the viewer. Reads the live signal state; expired signals are absent.
func (h *ChatHandler) GetTyping(c *fiber.Ctx) error {
	viewerID, _, ok := viewerContext(c)
	if !ok {
		return nil
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	users, err := h.typing.TypingUsers(c.Context(), conversationID, viewerID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read typing state"})
	}

	names := make([]string, 0, len(users))
	for _, user := range users {
		names = append(names, user.DisplayName)
	}
	return c.JSON(fiber.Map{"typing": names})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	client := chatws.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(role)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

// viewerContext pulls the authenticated viewer out of the request locals.
// On failure the response is already written and the handler should return.
func viewerContext(c *fiber.Ctx) (int64, string, bool) {
	role, ok := c.Locals("role").(string)
	if !ok || (role != services.RoleMember && role != services.RoleTrainer && role != services.RoleAdmin) {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		return 0, "", false
	}

	userIDValue, ok := c.Locals("user_id").(string)
	if !ok {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return 0, "", false
	}
	viewerID, err := strconv.ParseInt(userIDValue, 10, 64)
	if err != nil || viewerID <= 0 {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		return 0, "", false
	}

	return viewerID, role, true
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrEmptyMessage):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message cannot be empty"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrTrainerNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Trainer not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrDeliveryFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Message delivery failed"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
