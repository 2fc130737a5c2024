package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/language"
)

// Common errors
var (
	ErrBookNotFound = errors.New("book not found")
	ErrShuttingDown = errors.New("metadata service shutting down")
	ErrInvalidISBN  = errors.New("ISBN must be 10 or 13 digits long")
)

// NotFoundError is returned when no provider could resolve an ISBN.
// Reason carries the last provider's failure.
type NotFoundError struct {
	ISBN   string
	Reason string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("book not found for ISBN %s: %s", e.ISBN, e.Reason)
}

// Is lets errors.Is(err, ErrBookNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrBookNotFound
}

// Record is the canonical bibliographic description of a book
type Record struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Subtitle     string     `json:"subtitle,omitempty"`
	Author       string     `json:"author"`
	Description  string     `json:"description,omitempty"`
	ISBN10       string     `json:"isbn10,omitempty"`
	ISBN13       string     `json:"isbn13,omitempty"`
	PageCount    int        `json:"page_count,omitempty"`
	Language     string     `json:"language,omitempty"`
	PublishDate  *time.Time `json:"publish_date,omitempty"`
	ThumbnailURL string     `json:"-"`
}

// Response is the outcome of a single provider lookup. OK is false for any
// miss or failure and Reason says why; a miss is not an error.
type Response struct {
	OK           bool
	Reason       string
	Title        string
	Subtitle     string
	Author       string
	Description  string
	ISBN10       string
	ISBN13       string
	PageCount    int
	Language     string
	PublishDate  string
	ThumbnailURL string
}

// String summarizes the outcome for logs
func (r Response) String() string {
	if !r.OK {
		return fmt.Sprintf("miss(%s)", r.Reason)
	}
	return fmt.Sprintf("hit(%q)", r.Title)
}

// miss builds a failed Response
func miss(format string, args ...any) Response {
	return Response{Reason: fmt.Sprintf(format, args...)}
}

// Provider looks up one external bibliographic service by ISBN
type Provider interface {
	// Name returns the provider identifier (e.g., "googlebooks", "openlibrary")
	Name() string

	// Lookup queries the provider for a digits-only ISBN. apiKey may be empty
	// for providers that do not need one.
	Lookup(ctx context.Context, isbn, apiKey string) Response
}

// SanitizeISBN keeps only the digits of raw and checks the length.
func SanitizeISBN(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	isbn := b.String()
	if len(isbn) != 10 && len(isbn) != 13 {
		return "", ErrInvalidISBN
	}
	return isbn, nil
}

// normalizeLanguage reduces a provider language code ("eng", "en-GB",
// "/languages/fre") to a two-letter code, or "" when unknown.
func normalizeLanguage(code string) string {
	code = strings.TrimPrefix(strings.TrimSpace(code), "/languages/")
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	s := base.String()
	if len(s) != 2 {
		return ""
	}
	return s
}

// joinAuthors flattens an author list into the single author field
func joinAuthors(names []string) string {
	var out []string
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, ", ")
}

// cleanISBN strips hyphens and spaces from identifiers returned by providers
func cleanISBN(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == 'X' || r == 'x' {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}
