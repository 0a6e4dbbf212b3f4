package playout

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant marks a broken internal invariant. The operation is
	// aborted and nothing is written.
	ErrInvariant = errors.New("invariant violation")

	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrPlaylistNotActive = errors.New("playlist is not active")
	ErrPlaylistActive    = errors.New("playlist is already active")
	ErrStudioBusy        = errors.New("another playlist is active in the studio")
	ErrNoNextPart        = errors.New("no next part")
	ErrNoCurrentPart     = errors.New("no current part")
)

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
