package api

import (
	"github.com/gin-gonic/gin"

	"github.com/justyntemme/bookshelf/internal/auth"
	"github.com/justyntemme/bookshelf/internal/books"
	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/storage"
)

// NewRouter wires every route of the HTTP API
func NewRouter(db *storage.Database, tokens *auth.TokenManager, svc *books.Service, queue *metadata.Queue) *gin.Engine {
	handler := NewHandler(db, svc, queue)
	authHandler := NewAuthHandler(db, tokens)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery(), CORS())

	// Health check
	r.GET("/health", handler.HealthCheck)

	apiGroup := r.Group("/api")
	{
		// Auth routes (public)
		authGroup := apiGroup.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.GET("/check-username", authHandler.CheckUsername)
		}

		// Covers are public so <img> tags work without credentials
		apiGroup.GET("/books/:id/cover", handler.GetBookCover)

		// Protected routes (require authentication)
		protected := apiGroup.Group("")
		protected.Use(tokens.Middleware(db))
		{
			// Current user
			protected.POST("/auth/logout", authHandler.Logout)
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.PUT("/auth/me", authHandler.UpdateCurrentUser)
			protected.DELETE("/auth/me", authHandler.DeleteCurrentUser)
			protected.GET("/auth/sessions", authHandler.ListSessions)
			protected.DELETE("/auth/sessions", authHandler.DeleteOtherSessions)

			// Books
			protected.POST("/books", handler.AddBook)
			protected.POST("/books/manual", handler.AddManualBook)
			protected.POST("/books/import", handler.ImportBooks)
			protected.GET("/books", handler.ListBooks)
			protected.GET("/books/:id", handler.GetBook)
			protected.PUT("/books/:id", handler.UpdateBook)
			protected.DELETE("/books/:id", handler.DeleteBook)
			protected.POST("/books/:id/read", handler.MarkRead)
			protected.POST("/books/:id/cover", handler.UpdateBookCover)

			// Tags
			protected.GET("/tags", handler.ListTags)
			protected.POST("/tags", handler.CreateTag)
			protected.PUT("/tags/:id", handler.UpdateTag)
			protected.DELETE("/tags/:id", handler.DeleteTag)
		}
	}

	return r
}
