package crawler

import "errors"

// Browser and engine failure taxonomy. The engine recovers all of these
// locally; they only surface through Result.Err.
var (
	ErrNavigationTimeout     = errors.New("navigation timeout")
	ErrContentNotFound       = errors.New("content not found")
	ErrDriverStartup         = errors.New("browser driver startup failed")
	ErrUnexpectedDriverFault = errors.New("unexpected browser driver fault")
)

var (
	// ErrInvalidRequest marks a crawl request rejected before any browser work.
	ErrInvalidRequest = errors.New("invalid crawl request")
	// ErrMissingField marks a candidate lacking a required attribute.
	ErrMissingField = errors.New("candidate missing required field")
	// ErrNotFound is returned by stores for unknown keys.
	ErrNotFound = errors.New("not found")
	// ErrQueueClosed is returned by queues that no longer hand out work.
	ErrQueueClosed = errors.New("queue closed")
)
