// Package paged implements crawler.Browser over plain HTTP with Colly. Each
// scroll fetches the next listing page with an "after" cursor and appends its
// items to an accumulated document.
package paged

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultItemSelector = "shreddit-post"
	defaultCursorParam  = "after"
	defaultTimeout      = 30 * time.Second
)

// ErrSessionClosed is returned by session calls made after Close.
var ErrSessionClosed = errors.New("session closed")

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	ItemSelector string
	CursorParam  string
	Timeout      time.Duration
}

// Browser opens HTTP-backed sessions.
type Browser struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Browser.
func New(cfg Config, logger *zap.Logger) *Browser {
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = defaultItemSelector
	}
	if cfg.CursorParam == "" {
		cfg.CursorParam = defaultCursorParam
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Browser{cfg: cfg, baseCollector: c, logger: logger}
}

// Open fetches the first listing page.
func (b *Browser) Open(ctx context.Context, rawURL string, navTimeout time.Duration) (crawler.Session, error) {
	listing, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse listing url: %w", crawler.ErrDriverStartup, err)
	}
	s := &Session{
		browser: b,
		listing: listing,
		seen:    make(map[string]struct{}),
		logger:  b.logger.With(zap.String("url", rawURL)),
	}
	if navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, navTimeout)
		defer cancel()
	}
	if err := s.fetch(ctx, listing.String()); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", crawler.ErrNavigationTimeout, rawURL, navTimeout)
		}
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	s.logger.Debug("paged session opened", zap.Int("items", len(s.items)))
	return s, nil
}

// Session accumulates listing items across page fetches. It is not safe for
// concurrent use.
type Session struct {
	browser *Browser
	listing *url.URL
	logger  *zap.Logger

	items  []string
	seen   map[string]struct{}
	cursor string
	length int64

	closeOnce sync.Once
	closed    bool
}

type page struct {
	items  []pageItem
	cursor string
}

type pageItem struct {
	id   string
	html string
}

// WaitForContentReady fails unless selector matches the accumulated document.
func (s *Session) WaitForContentReady(ctx context.Context, selector string, _ time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.markup()))
	if err != nil {
		return fmt.Errorf("parse accumulated markup: %w", err)
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %q not present", crawler.ErrContentNotFound, selector)
	}
	return nil
}

// ScrollToBottom fetches the page after the last seen item. Without a cursor
// there is nothing further to load and the call is a no-op.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.cursor == "" {
		return nil
	}
	next := *s.listing
	q := next.Query()
	q.Set(s.browser.cfg.CursorParam, s.cursor)
	next.RawQuery = q.Encode()
	if err := s.fetch(ctx, next.String()); err != nil {
		return fmt.Errorf("fetch next page: %w", err)
	}
	return nil
}

// CurrentPageHeight reports the accumulated markup length. Repeated items do
// not count, so a listing that ignores the cursor stops growing.
func (s *Session) CurrentPageHeight(ctx context.Context) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.length, nil
}

// SnapshotMarkup returns every item fetched so far wrapped in a document.
func (s *Session) SnapshotMarkup(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.markup(), nil
}

// Close releases the session. Only the first call does any work.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.items = nil
		s.seen = nil
		s.logger.Debug("paged session closed")
	})
	return nil
}

func (s *Session) check(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("paged session: %w", err)
	}
	return nil
}

func (s *Session) markup() string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, item := range s.items {
		b.WriteString(item)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (s *Session) fetch(ctx context.Context, target string) error {
	p, err := s.browser.visit(ctx, target)
	if err != nil {
		return err
	}
	added := 0
	for _, item := range p.items {
		if item.id != "" {
			if _, dup := s.seen[item.id]; dup {
				continue
			}
			s.seen[item.id] = struct{}{}
		}
		s.items = append(s.items, item.html)
		s.length += int64(len(item.html))
		added++
	}
	if p.cursor != "" {
		s.cursor = p.cursor
	}
	s.logger.Debug("page fetched",
		zap.String("target", target),
		zap.Int("items", len(p.items)),
		zap.Int("new", added),
	)
	return nil
}

// visit runs one collector pass. Results are handed back over a channel so a
// canceled visit never touches session state.
func (b *Browser) visit(ctx context.Context, target string) (page, error) {
	collector := b.baseCollector.Clone()
	collector.Context = ctx

	var (
		p        page
		fetchErr error
	)
	collector.OnHTML(b.cfg.ItemSelector, func(e *colly.HTMLElement) {
		html, err := goquery.OuterHtml(e.DOM)
		if err != nil {
			return
		}
		id := e.Attr("id")
		p.items = append(p.items, pageItem{id: id, html: html})
		if id != "" {
			p.cursor = id
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	type outcome struct {
		page page
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		err := collector.Visit(target)
		if fetchErr != nil {
			err = fetchErr
		}
		done <- outcome{page: p, err: err}
	}()

	select {
	case <-ctx.Done():
		return page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case out := <-done:
		if out.err != nil {
			return page{}, fmt.Errorf("colly visit failed: %w", out.err)
		}
		return out.page, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
