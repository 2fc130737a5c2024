// Package books manages users' shelves on top of the shared book catalog.
package books

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/justyntemme/bookshelf/internal/metadata"
	"github.com/justyntemme/bookshelf/internal/models"
	"github.com/justyntemme/bookshelf/internal/storage"
)

var (
	ErrAlreadyAdded  = errors.New("book already added")
	ErrNotFound      = errors.New("book not found")
	ErrTagNotFound   = errors.New("tag not found")
	ErrISBNRequired  = errors.New("at least one ISBN is required")
	ErrCoverNotFound = storage.ErrCoverNotFound
)

// Lookup resolves an ISBN to a record. *metadata.Queue implements it.
type Lookup interface {
	Submit(ctx context.Context, isbn string) (*metadata.Record, error)
}

// CoverFetcher downloads a cover for a book. *thumbnail.Fetcher implements it.
type CoverFetcher interface {
	FetchAndStore(ctx context.Context, bookID, imageURL string) error
}

// Service implements the book operations of the API
type Service struct {
	db      *storage.Database
	covers  storage.CoverStore
	lookup  Lookup
	fetcher CoverFetcher

	inflight singleflight.Group
	imports  sync.WaitGroup
	now      func() time.Time
	newID    func() string
}

// NewService creates a books service
func NewService(db *storage.Database, covers storage.CoverStore, lookup Lookup, fetcher CoverFetcher) *Service {
	return &Service{
		db:      db,
		covers:  covers,
		lookup:  lookup,
		fetcher: fetcher,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// AddByISBN puts the book with the given ISBN on the user's shelf, looking
// it up through the resolution queue when the catalog does not know it yet.
func (s *Service) AddByISBN(ctx context.Context, userID, rawISBN string) (*models.UserBook, error) {
	isbn, err := metadata.SanitizeISBN(rawISBN)
	if err != nil {
		return nil, err
	}

	book, err := s.db.GetBookByISBN(isbn)
	if errors.Is(err, storage.ErrNotFound) {
		book, err = s.resolve(ctx, isbn)
	}
	if err != nil {
		return nil, err
	}

	return s.shelve(userID, book)
}

// resolve collapses concurrent lookups of one ISBN into a single queued task
func (s *Service) resolve(ctx context.Context, isbn string) (*models.Book, error) {
	v, err, shared := s.inflight.Do(isbn, func() (any, error) {
		return s.resolveAndStore(context.WithoutCancel(ctx), isbn)
	})
	if shared {
		log.Debug().Str("isbn", isbn).Msg("Joined in-flight resolution")
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.Book), nil
}

func (s *Service) resolveAndStore(ctx context.Context, isbn string) (*models.Book, error) {
	rec, err := s.lookup.Submit(ctx, isbn)
	if err != nil {
		return nil, err
	}

	book := recordToBook(rec, isbn, s.now())
	stored, created, err := s.db.CreateBookOnce(book)
	if err != nil {
		return nil, fmt.Errorf("storing book: %w", err)
	}

	if created && rec.ThumbnailURL != "" {
		if err := s.fetcher.FetchAndStore(ctx, stored.ID, rec.ThumbnailURL); err != nil {
			log.Warn().
				Err(err).
				Str("book_id", stored.ID).
				Str("url", rec.ThumbnailURL).
				Msg("Failed to download cover")
		}
	}
	return stored, nil
}

// recordToBook converts a resolved record. The searched ISBN is kept when the
// provider did not echo it back.
func recordToBook(rec *metadata.Record, isbn string, now time.Time) *models.Book {
	book := &models.Book{
		ID:          rec.ID,
		Title:       rec.Title,
		Subtitle:    rec.Subtitle,
		Author:      rec.Author,
		Description: rec.Description,
		ISBN10:      rec.ISBN10,
		ISBN13:      rec.ISBN13,
		PageCount:   rec.PageCount,
		Language:    rec.Language,
		PublishDate: rec.PublishDate,
		CreatedAt:   now,
	}
	switch {
	case len(isbn) == 10 && book.ISBN10 == "":
		book.ISBN10 = isbn
	case len(isbn) == 13 && book.ISBN13 == "":
		book.ISBN13 = isbn
	}
	return book
}

func (s *Service) shelve(userID string, book *models.Book) (*models.UserBook, error) {
	ub := &models.UserBook{
		ID:        s.newID(),
		UserID:    userID,
		Book:      *book,
		CreatedAt: s.now(),
	}
	if err := s.db.CreateUserBook(ub); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyAdded
		}
		return nil, err
	}
	return s.Get(userID, ub.ID)
}

// BookInput carries the fields of a manually entered book
type BookInput struct {
	Title       string
	Subtitle    string
	Author      string
	Description string
	ISBN10      string
	ISBN13      string
	PageCount   int
	Language    string
	PublishDate *time.Time
	TagIDs      []string
}

// AddManual creates a catalog entry from user input and shelves it
func (s *Service) AddManual(userID string, in BookInput) (*models.UserBook, error) {
	if in.ISBN10 == "" && in.ISBN13 == "" {
		return nil, ErrISBNRequired
	}
	for _, isbn := range []string{in.ISBN10, in.ISBN13} {
		taken, err := s.db.ISBNTaken(isbn, "")
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrAlreadyAdded
		}
	}
	if err := s.checkTags(userID, in.TagIDs); err != nil {
		return nil, err
	}

	book := &models.Book{
		ID:          s.newID(),
		Title:       in.Title,
		Subtitle:    in.Subtitle,
		Author:      in.Author,
		Description: in.Description,
		ISBN10:      in.ISBN10,
		ISBN13:      in.ISBN13,
		PageCount:   in.PageCount,
		Language:    in.Language,
		PublishDate: in.PublishDate,
		CreatedAt:   s.now(),
	}
	if err := s.db.CreateBook(book); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyAdded
		}
		return nil, err
	}

	ub, err := s.shelve(userID, book)
	if err != nil {
		return nil, err
	}
	if len(in.TagIDs) > 0 {
		if err := s.db.SetUserBookTags(ub.ID, in.TagIDs); err != nil {
			return nil, err
		}
		return s.Get(userID, ub.ID)
	}
	return ub, nil
}

// BookUpdate holds the fields to change; nil fields are left alone
type BookUpdate struct {
	Title       *string
	Subtitle    *string
	Author      *string
	Description *string
	ISBN10      *string
	ISBN13      *string
	PageCount   *int
	Language    *string
	PublishDate *time.Time
	TagIDs      *[]string
}

// Update edits the catalog entry behind a shelf entry and optionally its tags
func (s *Service) Update(userID, userBookID string, in BookUpdate) (*models.UserBook, error) {
	ub, err := s.Get(userID, userBookID)
	if err != nil {
		return nil, err
	}
	book := ub.Book

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&book.Title, in.Title)
	setString(&book.Subtitle, in.Subtitle)
	setString(&book.Author, in.Author)
	setString(&book.Description, in.Description)
	setString(&book.ISBN10, in.ISBN10)
	setString(&book.ISBN13, in.ISBN13)
	setString(&book.Language, in.Language)
	if in.PageCount != nil {
		book.PageCount = *in.PageCount
	}
	if in.PublishDate != nil {
		book.PublishDate = in.PublishDate
	}

	if book.ISBN10 == "" && book.ISBN13 == "" {
		return nil, ErrISBNRequired
	}
	for _, isbn := range []string{book.ISBN10, book.ISBN13} {
		taken, err := s.db.ISBNTaken(isbn, book.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrAlreadyAdded
		}
	}
	if in.TagIDs != nil {
		if err := s.checkTags(userID, *in.TagIDs); err != nil {
			return nil, err
		}
	}

	if err := s.db.UpdateBook(&book); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyAdded
		}
		return nil, err
	}
	if in.TagIDs != nil {
		if err := s.db.SetUserBookTags(ub.ID, *in.TagIDs); err != nil {
			return nil, err
		}
	}
	return s.Get(userID, ub.ID)
}

func (s *Service) checkTags(userID string, tagIDs []string) error {
	for _, id := range tagIDs {
		if _, err := s.db.GetTag(userID, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTagNotFound, id)
			}
			return err
		}
	}
	return nil
}

// Get returns one shelf entry of the user
func (s *Service) Get(userID, userBookID string) (*models.UserBook, error) {
	ub, err := s.db.GetUserBook(userID, userBookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	return ub, err
}

// Delete removes a book from the user's shelf. The catalog entry stays.
func (s *Service) Delete(userID, userBookID string) error {
	err := s.db.DeleteUserBook(userID, userBookID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// SetRead marks a shelf entry read or unread
func (s *Service) SetRead(userID, userBookID string, read bool) error {
	var at *time.Time
	if read {
		now := s.now()
		at = &now
	}
	err := s.db.SetRead(userID, userBookID, at)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// List returns one page of the user's shelf
func (s *Service) List(userID string, opts storage.ListOptions) (*models.BookPage, error) {
	return s.db.ListUserBooks(userID, opts)
}

// UpdateCover replaces the cover of a shelf entry's book with the image at imageURL
func (s *Service) UpdateCover(ctx context.Context, userID, userBookID, imageURL string) error {
	ub, err := s.Get(userID, userBookID)
	if err != nil {
		return err
	}
	return s.fetcher.FetchAndStore(ctx, ub.Book.ID, imageURL)
}

// Cover returns the cover bytes of the book behind a shelf entry
func (s *Service) Cover(ctx context.Context, userBookID string) ([]byte, error) {
	bookID, err := s.db.UserBookBookID(userBookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rc, err := s.covers.OpenCover(ctx, bookID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
