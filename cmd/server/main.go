package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/velickovic/clubchat/internal/config"
	"github.com/velickovic/clubchat/internal/database"
	"github.com/velickovic/clubchat/internal/feed"
	postgresrepo "github.com/velickovic/clubchat/internal/repository/postgres"
	"github.com/velickovic/clubchat/internal/service"
	"github.com/velickovic/clubchat/internal/session"
	"github.com/velickovic/clubchat/internal/storage"
	"github.com/velickovic/clubchat/internal/transport/http/handlers"
	"github.com/velickovic/clubchat/internal/transport/http/middleware"
	"github.com/velickovic/clubchat/internal/transport/ws"
)

func main() {
	cfg := config.Load()

	// Database
	pool, err := database.Connect(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()
	log.Println("Connected to database")

	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer rdb.Close()
	log.Println("Connected to redis")

	// Repositories
	userRepo := postgresrepo.NewUserRepo(pool)
	convRepo := postgresrepo.NewConversationRepo(pool)
	messageRepo := postgresrepo.NewMessageRepo(pool)
	reactionRepo := postgresrepo.NewReactionRepo(pool)
	receiptRepo := postgresrepo.NewReceiptRepo(pool)

	// Change feed and blob storage
	changeFeed := feed.NewRedisFeed(rdb)
	blobs := storage.NewSupabaseStore(cfg.StorageURL, cfg.StorageBucket, cfg.StorageKey)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	presenceService := service.NewPresenceService(rdb)
	directoryService := service.NewDirectoryService(convRepo, userRepo, presenceService)
	messageService := service.NewMessageService(messageRepo, convRepo, reactionRepo, receiptRepo, changeFeed, blobs)
	reactionService := service.NewReactionService(messageRepo, convRepo, reactionRepo, receiptRepo, changeFeed)

	// WebSocket hub bridged to the change feed
	typing := session.NewTypingRegistry()
	go typing.Run(context.Background())

	syncer := session.NewSyncer(changeFeed)
	defer syncer.Close()

	hub := ws.NewHub(typing)
	ws.NewFeedBridge(hub, syncer)
	go hub.Run()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userRepo, presenceService)
	conversationHandler := handlers.NewConversationHandler(directoryService)
	messageHandler := handlers.NewMessageHandler(messageService)
	reactionHandler := handlers.NewReactionHandler(reactionService)
	uploadHandler := handlers.NewUploadHandler(blobs)

	// Middleware
	auth := middleware.Auth(cfg.JWTSecret)
	activity := middleware.Activity(presenceService)
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(activity(h))
	}

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	// Protected - Users
	mux.Handle("GET /api/v1/users", protected(userHandler.Lookup))

	// Protected - Conversations
	mux.Handle("GET /api/v1/conversations", protected(conversationHandler.List))
	mux.Handle("POST /api/v1/conversations/direct", protected(conversationHandler.StartDirect))
	mux.Handle("POST /api/v1/conversations/groups", protected(conversationHandler.CreateGroup))
	mux.Handle("GET /api/v1/conversations/{id}", protected(conversationHandler.Get))
	mux.Handle("GET /api/v1/conversations/{id}/members", protected(conversationHandler.ListMembers))
	mux.Handle("POST /api/v1/conversations/{id}/members", protected(conversationHandler.AddMember))
	mux.Handle("DELETE /api/v1/conversations/{id}/members/{userID}", protected(conversationHandler.RemoveMember))
	mux.Handle("PATCH /api/v1/conversations/{id}/members/{userID}", protected(conversationHandler.SetAdmin))

	// Protected - Messages
	mux.Handle("POST /api/v1/conversations/{id}/messages", protected(messageHandler.Send))
	mux.Handle("GET /api/v1/conversations/{id}/messages", protected(messageHandler.List))
	mux.Handle("DELETE /api/v1/messages/{id}", protected(messageHandler.Delete))

	// Protected - Reactions and read receipts
	mux.Handle("POST /api/v1/messages/{id}/reactions", protected(reactionHandler.Toggle))
	mux.Handle("POST /api/v1/messages/{id}/read", protected(reactionHandler.MarkRead))

	// Protected - Uploads
	mux.Handle("POST /api/v1/uploads", protected(uploadHandler.Upload))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, userRepo, cfg.JWTSecret))

	// Start server with CORS
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("Starting server on %s", addr)
	log.Fatal(http.ListenAndServe(addr, middleware.CORS(mux)))
}
