package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campuslabs/socratic-tutor/internal/store"
)

var (
	// ErrUpstreamUnavailable wraps every embedding, generation and storage
	// failure, including timeouts.
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	// ErrNoGroundingContext means no curriculum chunks were found for a request.
	ErrNoGroundingContext = errors.New("no curriculum materials found for this topic")
	// ErrMalformedGenerationOutput means the model returned text that could not
	// be parsed into the expected structure.
	ErrMalformedGenerationOutput = errors.New("malformed generation output")
	// ErrValidation rejects caller input before any external call is made.
	ErrValidation = errors.New("invalid request")

	ErrNotFound         = store.ErrNotFound
	ErrQuizNotPublished = errors.New("quiz is not published")
)

// IsRetryable reports whether err is a transient upstream failure the caller
// may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func upstreamErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUpstreamUnavailable, err)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
