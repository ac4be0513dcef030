// Package headless implements crawler.Browser with chromedp and headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/metrics"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

const (
	defaultWidth      = 1920
	defaultHeight     = 1080
	defaultNavTimeout = 90 * time.Second
	scrollScript      = `window.scrollTo(0, document.body.scrollHeight);`
	heightScript      = `document.body.scrollHeight`
)

// Config controls the behavior of the headless browser.
type Config struct {
	MaxParallel          int
	UserAgent            string
	WindowWidth          int
	WindowHeight         int
	NavigationsPerSecond float64
	ExecPath             string
}

// Browser launches one Chrome process per session.
type Browser struct {
	cfg        Config
	limiter    chan struct{}
	navLimiter *rate.Limiter
	allocOpts  []chromedp.ExecAllocatorOption
	logger     *zap.Logger
}

// New creates a headless Browser backed by chromedp.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationsPerSecond < 0 {
		return nil, fmt.Errorf("navigations per second must be >= 0")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = defaultWidth, defaultHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	var navLimiter *rate.Limiter
	if cfg.NavigationsPerSecond > 0 {
		navLimiter = rate.NewLimiter(rate.Limit(cfg.NavigationsPerSecond), 1)
	}
	return &Browser{
		cfg:        cfg,
		limiter:    limiter,
		navLimiter: navLimiter,
		allocOpts:  allocatorOptions(cfg),
		logger:     logger,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Open starts a browser process and navigates to url. The returned session
// owns the process until Close.
func (b *Browser) Open(ctx context.Context, url string, navTimeout time.Duration) (crawler.Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	if b.navLimiter != nil {
		start := time.Now()
		if err := b.navLimiter.Wait(ctx); err != nil {
			b.release()
			return nil, fmt.Errorf("navigation rate limit: %w", err)
		}
		metrics.ObserveNavigationWait(time.Since(start))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		release:       b.release,
		logger:        b.logger.With(zap.String("url", url)),
	}

	// The first Run allocates the process; it must use the session context
	// itself or the process dies with the derived context.
	if err := chromedp.Run(browserCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %w", crawler.ErrDriverStartup, err), s.Close())
	}

	if navTimeout <= 0 {
		navTimeout = defaultNavTimeout
	}
	err := s.run(ctx, navTimeout, b.setupAction(), chromedp.Navigate(url))
	if err != nil {
		closeErr := s.Close()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Join(fmt.Errorf("%w: %s after %s", crawler.ErrNavigationTimeout, url, navTimeout), closeErr)
		}
		return nil, errors.Join(fmt.Errorf("navigate %s: %w", url, err), closeErr)
	}
	s.logger.Debug("browser session opened")
	return s, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(
			int64(b.cfg.WindowWidth),
			int64(b.cfg.WindowHeight),
			1,
			false,
		).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Session is one live Chrome tab plus its process.
type Session struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	release       func()
	logger        *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// WaitForContentReady blocks until selector matches a node in the DOM.
func (s *Session) WaitForContentReady(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %q not present after %s", crawler.ErrContentNotFound, selector, timeout)
	}
	return fmt.Errorf("wait for %q: %w", selector, err)
}

// ScrollToBottom scrolls once to the current document bottom.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	if err := s.run(ctx, 0, chromedp.Evaluate(scrollScript, nil)); err != nil {
		return fmt.Errorf("scroll to bottom: %w", err)
	}
	return nil
}

// CurrentPageHeight reports document.body.scrollHeight.
func (s *Session) CurrentPageHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := s.run(ctx, 0, chromedp.Evaluate(heightScript, &height)); err != nil {
		return 0, fmt.Errorf("read page height: %w", err)
	}
	return height, nil
}

// SnapshotMarkup returns the rendered DOM.
func (s *Session) SnapshotMarkup(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot markup: %w", err)
	}
	return html, nil
}

// Close shuts the browser down. Only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("cancel browser: %w", err)
		}
		s.browserCancel()
		s.allocCancel()
		if s.release != nil {
			s.release()
		}
		s.logger.Debug("browser session closed")
	})
	return s.closeErr
}

// run executes actions on the session tab, bounded by timeout when positive
// and aborted when ctx ends.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.browserCtx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.browserCtx)
	}
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
