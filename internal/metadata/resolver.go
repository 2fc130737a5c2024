package metadata

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Resolver turns an ISBN into a Record by asking the primary provider and
// then the fallback provider.
type Resolver struct {
	primary  Provider
	fallback Provider
	apiKey   string
	newID    func() string
}

// NewResolver creates a resolver. apiKey is only passed to the primary provider.
func NewResolver(primary, fallback Provider, apiKey string) *Resolver {
	return &Resolver{
		primary:  primary,
		fallback: fallback,
		apiKey:   apiKey,
		newID:    uuid.NewString,
	}
}

type resolveState int

const (
	tryPrimary resolveState = iota
	tryFallback
	failed
	succeeded
)

// Resolve looks up a sanitized ISBN. Every call queries the providers again.
// When both miss the error is a *NotFoundError carrying the fallback's reason,
// unless ctx ended first, in which case ctx.Err() is returned.
func (r *Resolver) Resolve(ctx context.Context, isbn string) (*Record, error) {
	var resp Response
	state := tryPrimary

	for {
		switch state {
		case tryPrimary:
			resp = r.primary.Lookup(ctx, isbn, r.apiKey)
			if resp.OK {
				state = succeeded
				continue
			}
			log.Warn().
				Str("isbn", isbn).
				Str("provider", r.primary.Name()).
				Str("reason", resp.Reason).
				Msg("Book not found with primary provider")
			if ctx.Err() != nil {
				state = failed
				continue
			}
			state = tryFallback

		case tryFallback:
			resp = r.fallback.Lookup(ctx, isbn, "")
			if resp.OK {
				state = succeeded
				continue
			}
			log.Warn().
				Str("isbn", isbn).
				Str("provider", r.fallback.Name()).
				Str("reason", resp.Reason).
				Msg("Book not found with fallback provider")
			state = failed

		case failed:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			log.Error().Str("isbn", isbn).Msg("Book not found with any provider")
			return nil, &NotFoundError{ISBN: isbn, Reason: resp.Reason}

		case succeeded:
			return r.toRecord(&resp), nil
		}
	}
}

// toRecord builds a fresh Record from a successful response
func (r *Resolver) toRecord(resp *Response) *Record {
	return &Record{
		ID:           r.newID(),
		Title:        resp.Title,
		Subtitle:     resp.Subtitle,
		Author:       resp.Author,
		Description:  resp.Description,
		ISBN10:       resp.ISBN10,
		ISBN13:       resp.ISBN13,
		PageCount:    resp.PageCount,
		Language:     resp.Language,
		PublishDate:  ParseDate(resp.PublishDate),
		ThumbnailURL: resp.ThumbnailURL,
	}
}
