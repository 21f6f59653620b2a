package blocksource

import (
	"context"
	"io"
	"time"

	"github.com/banshee-data/glucose.report/internal/libre"
	"github.com/banshee-data/glucose.report/internal/monitoring"
	"github.com/banshee-data/glucose.report/internal/timeutil"
)

// Handler receives each polled image. A nil block comes with the read error.
type Handler func(ctx context.Context, block *libre.RawBlock, err error)

// Poll reads src immediately and then on every tick of interval until ctx is
// done or the source reports end of stream. It returns ctx.Err() or nil.
//
// If src is an io.Closer it is closed once ctx is done, which unblocks a read
// waiting on a silent stream.
func Poll(ctx context.Context, clock timeutil.Clock, interval time.Duration, src Source, handle Handler) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	if c, ok := src.(io.Closer); ok {
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-ctx.Done():
				if err := c.Close(); err != nil {
					monitoring.Verbosef("blocksource: closing source: %v", err)
				}
			case <-finished:
			}
		}()
	}

	for {
		block, err := src.ReadBlock(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsEndOfStream(err) {
			return nil
		}
		handle(ctx, block, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}
