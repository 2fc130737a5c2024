// Package thumbnail downloads cover images and stores them by book id.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/justyntemme/bookshelf/internal/sniff"
)

// Some image hosts refuse Go's default user agent.
const userAgent = "Mozilla/5.0 (Windows NT 6.1; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/29.0.1547.62 Safari/537.36"

var (
	ErrUnsupportedImageFormat = errors.New("only JPEG images are supported as thumbnails")
	ErrInvalidRequest         = errors.New("book id and absolute http(s) image URL are required")
	ErrFetch                  = errors.New("thumbnail fetch failed")
	ErrStorage                = errors.New("thumbnail storage failed")
)

// FetchError wraps a network or HTTP failure while downloading an image
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// StorageError wraps a failure of the artifact store
type StorageError struct {
	BookID string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storing cover for %s: %v", e.BookID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Store persists cover bytes under a book id. Implementations must replace
// any previous cover atomically and must not keep a partial cover when r
// fails.
type Store interface {
	SaveCover(ctx context.Context, bookID string, r io.Reader) error
}

// Fetcher downloads JPEG covers into a Store
type Fetcher struct {
	client *http.Client
	store  Store
}

// NewFetcher creates a fetcher with the given connect/read timeout
func NewFetcher(store Store, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
		store: store,
	}
}

// FetchAndStore downloads imageURL and stores it as the cover of bookID.
// Nothing is written unless the body sniffs as JPEG.
func (f *Fetcher) FetchAndStore(ctx context.Context, bookID, imageURL string) error {
	u, err := url.Parse(imageURL)
	if bookID == "" || err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidRequest
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return &FetchError{URL: imageURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return &FetchError{URL: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{URL: imageURL, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}

	br := sniff.NewReader(resp.Body)
	typ, err := sniff.Detect(br)
	if err != nil {
		return &FetchError{URL: imageURL, Err: err}
	}
	if typ != sniff.JPEG {
		log.Debug().
			Str("book_id", bookID).
			Str("url", imageURL).
			Str("mime", string(typ)).
			Msg("Rejected cover image")
		return ErrUnsupportedImageFormat
	}

	body := &trackingReader{r: br}
	if err := f.store.SaveCover(ctx, bookID, body); err != nil {
		if body.err != nil {
			return &FetchError{URL: imageURL, Err: body.err}
		}
		return &StorageError{BookID: bookID, Err: err}
	}
	return nil
}

// trackingReader remembers the first non-EOF read error so a failed save can
// be blamed on the download rather than the store.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
