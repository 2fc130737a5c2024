package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenLibraryProvider queries the Open Library books API. It is the
// fallback provider and ignores the API key.
type OpenLibraryProvider struct {
	client  *http.Client
	baseURL string
}

// NewOpenLibraryProvider creates a new Open Library provider
func NewOpenLibraryProvider(timeout time.Duration) *OpenLibraryProvider {
	return &OpenLibraryProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://openlibrary.org",
	}
}

// Name returns the provider identifier
func (p *OpenLibraryProvider) Name() string {
	return "openlibrary"
}

// olBook is one entry of an /api/books?jscmd=data response
type olBook struct {
	Title         string        `json:"title"`
	Subtitle      string        `json:"subtitle"`
	Authors       []olNamed     `json:"authors"`
	Identifiers   olIdentifiers `json:"identifiers"`
	NumberOfPages int           `json:"number_of_pages"`
	PublishDate   string        `json:"publish_date"`
	Notes         any           `json:"notes"`       // Can be string or {type, value}
	Description   any           `json:"description"` // Same shape as notes
	Languages     []olKey       `json:"languages"`
	Cover         olCover       `json:"cover"`
}

type olNamed struct {
	Name string `json:"name"`
}

type olKey struct {
	Key string `json:"key"`
}

type olIdentifiers struct {
	ISBN10 []string `json:"isbn_10"`
	ISBN13 []string `json:"isbn_13"`
}

type olCover struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
	Large  string `json:"large"`
}

// Lookup fetches the edition data for an ISBN
func (p *OpenLibraryProvider) Lookup(ctx context.Context, isbn, _ string) Response {
	params := url.Values{}
	params.Set("bibkeys", "ISBN:"+isbn)
	params.Set("jscmd", "data")
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/books?"+params.Encode(), nil)
	if err != nil {
		return miss("building request: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return miss("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return miss("rate limited by provider")
	}
	if resp.StatusCode != http.StatusOK {
		return miss("unexpected status: %d", resp.StatusCode)
	}

	var data map[string]olBook
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return miss("malformed response: %v", err)
	}

	book, ok := data["ISBN:"+isbn]
	if !ok {
		return miss("no result for ISBN %s", isbn)
	}
	return p.convertBook(&book)
}

// convertBook maps an Open Library book entry to a Response
func (p *OpenLibraryProvider) convertBook(b *olBook) Response {
	if strings.TrimSpace(b.Title) == "" {
		return miss("book has no title")
	}

	names := make([]string, 0, len(b.Authors))
	for _, a := range b.Authors {
		names = append(names, a.Name)
	}

	r := Response{
		OK:          true,
		Title:       strings.TrimSpace(b.Title),
		Subtitle:    strings.TrimSpace(b.Subtitle),
		Author:      joinAuthors(names),
		ISBN10:      cleanISBN(firstOrEmpty(b.Identifiers.ISBN10)),
		ISBN13:      cleanISBN(firstOrEmpty(b.Identifiers.ISBN13)),
		PageCount:   b.NumberOfPages,
		PublishDate: b.PublishDate,
	}

	r.Description = textValue(b.Description)
	if r.Description == "" {
		r.Description = textValue(b.Notes)
	}

	if len(b.Languages) > 0 {
		r.Language = normalizeLanguage(b.Languages[0].Key)
	}

	switch {
	case b.Cover.Large != "":
		r.ThumbnailURL = b.Cover.Large
	case b.Cover.Medium != "":
		r.ThumbnailURL = b.Cover.Medium
	default:
		r.ThumbnailURL = b.Cover.Small
	}

	return r
}

// textValue reads a field that is either a plain string or a {type, value} object
func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if val, ok := t["value"].(string); ok {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// firstOrEmpty returns the first element or empty string
func firstOrEmpty(s []string) string {
	if len(s) > 0 {
		return s[0]
	}
	return ""
}
