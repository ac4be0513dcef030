// Package notify tells recipients that a crawl report is ready.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// ErrUnknownRecipient is returned for handles missing from the registry.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Registry maps recipient handles to delivery addresses.
type Registry struct {
	addresses map[string]string
}

// NewRegistry copies the handle to address map. Handles are matched
// case-insensitively.
func NewRegistry(addresses map[string]string) *Registry {
	r := &Registry{addresses: make(map[string]string, len(addresses))}
	for handle, addr := range addresses {
		r.addresses[strings.ToLower(strings.TrimSpace(handle))] = addr
	}
	return r
}

// Resolve returns the address registered for handle.
func (r *Registry) Resolve(handle string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecipient, handle)
	}
	addr, ok := r.addresses[strings.ToLower(strings.TrimSpace(handle))]
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownRecipient, handle)
	}
	return addr, nil
}

// Notice describes a finished crawl.
type Notice struct {
	CrawlID     string
	ReportURI   string
	RecordCount int
	Digest      string
}

// Message is the payload published for each notice.
type Message struct {
	CrawlID     string `json:"crawl_id"`
	Address     string `json:"address"`
	ReportURI   string `json:"report_uri"`
	RecordCount int    `json:"record_count"`
}

// Config controls delivery.
type Config struct {
	Topic   string
	Timeout time.Duration
}

// Notifier publishes notices in the background.
type Notifier struct {
	publisher crawler.Publisher
	registry  *Registry
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Notifier.
func New(publisher crawler.Publisher, registry *Registry, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, registry: registry, cfg: cfg, logger: logger}
}

// NotifyAsync delivers n to recipient on its own goroutine. The delivery
// outlives ctx cancellation but is bounded by the configured timeout.
// Failures are logged and counted, never returned. Notices arriving after
// Wait has started are dropped.
func (n *Notifier) NotifyAsync(ctx context.Context, recipient string, notice Notice) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		metrics.ObserveNotifyFailure("closed")
		n.logger.Warn("notifier closed; notification dropped",
			zap.String("crawl_id", notice.CrawlID),
			zap.String("recipient", recipient),
		)
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.Timeout)
		defer cancel()
		if err := n.Notify(sendCtx, recipient, notice); err != nil {
			n.logger.Warn("notification failed",
				zap.String("crawl_id", notice.CrawlID),
				zap.String("recipient", recipient),
				zap.Error(err),
			)
		}
	}()
}

// Notify delivers n synchronously.
func (n *Notifier) Notify(ctx context.Context, recipient string, notice Notice) error {
	addr, err := n.registry.Resolve(recipient)
	if err != nil {
		metrics.ObserveNotifyFailure("unknown_recipient")
		return err
	}
	if n.publisher == nil {
		metrics.ObserveNotifyFailure("no_publisher")
		return errors.New("notification publisher is not configured")
	}
	attrs := map[string]string{"crawl_id": notice.CrawlID}
	if notice.Digest != "" {
		attrs["report_sha256"] = notice.Digest
	}
	msg := Message{
		CrawlID:     notice.CrawlID,
		Address:     addr,
		ReportURI:   notice.ReportURI,
		RecordCount: notice.RecordCount,
	}
	id, err := n.publisher.Publish(ctx, n.cfg.Topic, attrs, msg)
	if err != nil {
		metrics.ObserveNotifyFailure("publish")
		return fmt.Errorf("publish notification: %w", err)
	}
	n.logger.Info("notification published",
		zap.String("crawl_id", notice.CrawlID),
		zap.String("message_id", id),
	)
	return nil
}

// Wait stops accepting notices and blocks until every in-flight
// notification finishes.
func (n *Notifier) Wait() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
