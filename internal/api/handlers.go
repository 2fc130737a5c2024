package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/auth"
	"github.com/justyntemme/bookshelf/internal/books"
	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/models"
	"github.com/justyntemme/bookshelf/internal/storage"
	"github.com/justyntemme/bookshelf/internal/thumbnail"
)

// Handler contains the book, tag and health handlers
type Handler struct {
	db    *storage.Database
	books *books.Service
	queue *metadata.Queue
}

// NewHandler creates a new handler instance
func NewHandler(db *storage.Database, svc *books.Service, queue *metadata.Queue) *Handler {
	return &Handler{db: db, books: svc, queue: queue}
}

// HealthCheck returns server health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"pending_books": h.queue.Len(),
	})
}

// bookError writes the response for an error from the books service
func bookError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, metadata.ErrInvalidISBN):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, metadata.ErrBookNotFound), errors.Is(err, books.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	case errors.Is(err, books.ErrAlreadyAdded):
		c.JSON(http.StatusConflict, gin.H{"error": "Book already added"})
	case errors.Is(err, books.ErrISBNRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one ISBN is required"})
	case errors.Is(err, books.ErrTagNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tag not found"})
	case errors.Is(err, books.ErrCoverNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Cover not found"})
	case errors.Is(err, thumbnail.ErrUnsupportedImageFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported cover image"})
	case errors.Is(err, thumbnail.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cover URL"})
	case errors.Is(err, thumbnail.ErrFetch):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to download cover"})
	case errors.Is(err, books.ErrInvalidImport):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, metadata.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service busy, try again"})
	default:
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Failed to " + action)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

// AddBook adds a book to the shelf by ISBN, looking it up if needed
func (h *Handler) AddBook(c *gin.Context) {
	var req AddBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ub, err := h.books.AddByISBN(c.Request.Context(), auth.GetUserID(c), req.ISBN)
	if err != nil {
		var nf *metadata.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Book not found", "reason": nf.Reason})
			return
		}
		bookError(c, err, "add book")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"book": ub})
}

// AddManualBook adds a book entered by hand
func (h *Handler) AddManualBook(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.ValidateCreate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ub, err := h.books.AddManual(auth.GetUserID(c), req.Input())
	if err != nil {
		bookError(c, err, "add book")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"book": ub})
}

// ImportBooks shelves the books of an uploaded Goodreads export. Lookups
// continue in the background after the response.
func (h *Handler) ImportBooks(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer f.Close()

	if _, err := h.books.Import(c.Request.Context(), auth.GetUserID(c), f); err != nil {
		bookError(c, err, "import books")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListBooks returns one page of the user's shelf
func (h *Handler) ListBooks(c *gin.Context) {
	opts := storage.ListOptions{
		Limit:      queryInt(c, "limit", 10),
		Offset:     queryInt(c, "offset", 0),
		SortColumn: queryInt(c, "sort_column", storage.SortTitle),
		Asc:        c.DefaultQuery("asc", "true") == "true",
		Search:     c.Query("search"),
		TagID:      c.Query("tag"),
	}
	if opts.Limit <= 0 || opts.Limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	if opts.Offset < 0 || opts.SortColumn < storage.SortTitle || opts.SortColumn > storage.SortCreated {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset or sort_column"})
		return
	}
	if v := c.Query("read"); v != "" {
		read, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read must be true or false"})
			return
		}
		opts.Read = &read
	}

	page, err := h.books.List(auth.GetUserID(c), opts)
	if err != nil {
		bookError(c, err, "list books")
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// GetBook returns a single shelf entry
func (h *Handler) GetBook(c *gin.Context) {
	ub, err := h.books.Get(auth.GetUserID(c), c.Param("id"))
	if err != nil {
		bookError(c, err, "get book")
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": ub})
}

// UpdateBook edits a shelf entry's book and tags
func (h *Handler) UpdateBook(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.ValidateUpdate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ub, err := h.books.Update(auth.GetUserID(c), c.Param("id"), req.Update())
	if err != nil {
		bookError(c, err, "update book")
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": ub})
}

// DeleteBook removes a book from the user's shelf
func (h *Handler) DeleteBook(c *gin.Context) {
	if err := h.books.Delete(auth.GetUserID(c), c.Param("id")); err != nil {
		bookError(c, err, "delete book")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book deleted"})
}

// MarkRead sets or clears the read date of a shelf entry
func (h *Handler) MarkRead(c *gin.Context) {
	var req struct {
		Read bool `json:"read"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.books.SetRead(auth.GetUserID(c), c.Param("id"), req.Read); err != nil {
		bookError(c, err, "update read status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"read": req.Read})
}

// GetBookCover serves the cover image of a shelf entry
func (h *Handler) GetBookCover(c *gin.Context) {
	data, err := h.books.Cover(c.Request.Context(), c.Param("id"))
	if err != nil {
		bookError(c, err, "load cover")
		return
	}

	etag := storage.CoverETag(data)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// UpdateBookCover downloads a new cover for a shelf entry
func (h *Handler) UpdateBookCover(c *gin.Context) {
	var req CoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.books.UpdateCover(c.Request.Context(), auth.GetUserID(c), c.Param("id"), req.URL); err != nil {
		bookError(c, err, "update cover")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cover updated"})
}

// Tags

// ListTags returns the user's tags
func (h *Handler) ListTags(c *gin.Context) {
	tags, err := h.db.ListTags(auth.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tags"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

// CreateTag creates a tag
func (h *Handler) CreateTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := &models.Tag{
		ID:        uuid.New().String(),
		UserID:    auth.GetUserID(c),
		Name:      req.Name,
		Color:     req.Color,
		CreatedAt: time.Now(),
	}
	if err := h.db.CreateTag(tag); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Tag already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tag"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"tag": tag})
}

// UpdateTag renames or recolors a tag
func (h *Handler) UpdateTag(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag, err := h.db.GetTag(auth.GetUserID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tag not found"})
		return
	}
	tag.Name = req.Name
	tag.Color = req.Color

	if err := h.db.UpdateTag(tag); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Tag already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update tag"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tag": tag})
}

// DeleteTag deletes a tag and unlinks it from books
func (h *Handler) DeleteTag(c *gin.Context) {
	if err := h.db.DeleteTag(auth.GetUserID(c), c.Param("id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tag not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete tag"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tag deleted"})
}
