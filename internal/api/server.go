package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/justyntemme/bookshelf/internal/metadata"
)

// Shutdown stops the resolution queue and the HTTP server at the same time.
// Requests still waiting in the queue fail with 503 while the server drains
// the ones already in flight. Both share ctx as their grace period.
func Shutdown(ctx context.Context, srv *http.Server, queue *metadata.Queue) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := queue.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Resolution queue did not drain in time")
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})
	return g.Wait()
}
