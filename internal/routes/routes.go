package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fitzone-app/FitZoneBack/internal/config"
	"github.com/fitzone-app/FitZoneBack/internal/handlers"
	"github.com/fitzone-app/FitZoneBack/internal/middleware"
	"github.com/fitzone-app/FitZoneBack/internal/refresh"
	"github.com/fitzone-app/FitZoneBack/internal/repository"
	"github.com/fitzone-app/FitZoneBack/internal/services"
	"github.com/fitzone-app/FitZoneBack/internal/typing"
	chatws "github.com/fitzone-app/FitZoneBack/internal/websocket"
)

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	redisClient *goredis.Client,
	logger *zap.Logger,
) {
	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewMemberProfileRepository(db)
	trainerRepo := repository.NewTrainerRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	refreshBus := refresh.NewBus(redisClient, logger)
	typingStore := typing.NewStore(redisClient, 0, logger)

	resolver := services.NewParticipantResolver(trainerRepo, profileRepo)
	tracker := services.NewReadReceiptTracker(messageRepo, refreshBus, logger)
	chatService := services.NewChatService(
		db,
		conversationRepo,
		messageRepo,
		userRepo,
		resolver,
		tracker,
		refreshBus,
		logger,
	)

	chatHub := chatws.NewHub(chatService, tracker, typingStore, resolver, refreshBus, logger)
	go chatHub.Run()

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, typingStore, chatHub, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/unread-count", chatHandler.UnreadCount)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Get("/:id/typing", chatHandler.GetTyping)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))
}
