package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GoogleBooksProvider queries the Google Books volumes API. It is the
// primary provider and needs an API key.
type GoogleBooksProvider struct {
	client  *http.Client
	baseURL string
}

// NewGoogleBooksProvider creates a Google Books provider with the given request timeout
func NewGoogleBooksProvider(timeout time.Duration) *GoogleBooksProvider {
	return &GoogleBooksProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: "https://www.googleapis.com/books/v1",
	}
}

// Name returns the provider identifier
func (p *GoogleBooksProvider) Name() string {
	return "googlebooks"
}

type gbResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []gbItem `json:"items"`
}

type gbItem struct {
	VolumeInfo gbVolumeInfo `json:"volumeInfo"`
}

type gbVolumeInfo struct {
	Title               string         `json:"title"`
	Subtitle            string         `json:"subtitle"`
	Authors             []string       `json:"authors"`
	Description         string         `json:"description"`
	PublishedDate       string         `json:"publishedDate"`
	PageCount           int            `json:"pageCount"`
	Language            string         `json:"language"`
	IndustryIdentifiers []gbIdentifier `json:"industryIdentifiers"`
	ImageLinks          gbImageLinks   `json:"imageLinks"`
}

type gbIdentifier struct {
	Type       string `json:"type"`
	Identifier string `json:"identifier"`
}

type gbImageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}

type gbError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Lookup searches volumes by ISBN and maps the first hit
func (p *GoogleBooksProvider) Lookup(ctx context.Context, isbn, apiKey string) Response {
	params := url.Values{}
	params.Set("q", "isbn:"+isbn)
	if apiKey != "" {
		params.Set("key", apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/volumes?"+params.Encode(), nil)
	if err != nil {
		return miss("building request: %v", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return miss("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr gbError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return miss("unexpected status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return miss("unexpected status: %d", resp.StatusCode)
	}

	var data gbResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return miss("malformed response: %v", err)
	}
	if data.TotalItems == 0 || len(data.Items) == 0 {
		return miss("no result for ISBN %s", isbn)
	}

	return p.convertVolume(&data.Items[0].VolumeInfo)
}

// convertVolume maps a volumeInfo block to a Response
func (p *GoogleBooksProvider) convertVolume(v *gbVolumeInfo) Response {
	if strings.TrimSpace(v.Title) == "" {
		return miss("volume has no title")
	}

	r := Response{
		OK:          true,
		Title:       strings.TrimSpace(v.Title),
		Subtitle:    strings.TrimSpace(v.Subtitle),
		Author:      joinAuthors(v.Authors),
		Description: strings.TrimSpace(v.Description),
		PageCount:   v.PageCount,
		Language:    normalizeLanguage(v.Language),
		PublishDate: v.PublishedDate,
	}

	for _, id := range v.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_10":
			r.ISBN10 = cleanISBN(id.Identifier)
		case "ISBN_13":
			r.ISBN13 = cleanISBN(id.Identifier)
		}
	}

	if v.ImageLinks.Thumbnail != "" {
		r.ThumbnailURL = v.ImageLinks.Thumbnail
	} else {
		r.ThumbnailURL = v.ImageLinks.SmallThumbnail
	}

	return r
}
