// Package mirror tries an operation against an ordered list of interchangeable
// servers, entries listed first are tried first.
package mirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/jgivc/modsync/internal/common"
)

// Attempt runs the operation against one mirror.
type Attempt[T any] func(ctx context.Context, index int, mirror string) (T, error)

// WithMirrors returns the result of the first successful attempt. If every
// mirror fails, the returned error wraps common.ErrMirrorsExhausted and the
// last attempt's error.
func WithMirrors[T any](ctx context.Context, mirrors []string, attempt Attempt[T]) (T, error) {
	var zero T

	if len(mirrors) == 0 {
		return zero, common.ErrNoMirrors
	}

	var lastErr error
	for i, m := range mirrors {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		res, err := attempt(ctx, i, m)
		if err == nil {
			return res, nil
		}

		lastErr = err
	}

	return zero, fmt.Errorf("%w (%d tried): %w", common.ErrMirrorsExhausted, len(mirrors), lastErr)
}

// BaseURL makes sure a server address can be used as a prefix for file paths.
func BaseURL(server string) string {
	if strings.HasSuffix(server, "/") {
		return server
	}

	return server + "/"
}
