// Package engine implements the incremental scroll/extract/dedupe crawl loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

const (
	defaultBaseURL           = "https://www.reddit.com"
	defaultMaxAttempts       = 5
	defaultSettleDelay       = 20 * time.Second
	defaultNavigationTimeout = 90 * time.Second
	defaultReadinessTimeout  = 60 * time.Second
	defaultItemSelector      = "shreddit-post"
)

var (
	validSource = regexp.MustCompile(`^[A-Za-z0-9_]{2,50}$`)
	sortModes   = map[string]struct{}{
		"hot":           {},
		"new":           {},
		"top":           {},
		"rising":        {},
		"controversial": {},
		"best":          {},
	}
)

// Config holds the retry and timing knobs of the crawl loop. Zero values
// fall back to production defaults.
type Config struct {
	BaseURL           string
	MaxAttempts       int
	SettleDelay       time.Duration
	NavigationTimeout time.Duration
	ReadinessTimeout  time.Duration
	ReadinessSelector string
	ItemSelector      string
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.ReadinessTimeout <= 0 {
		c.ReadinessTimeout = defaultReadinessTimeout
	}
	if c.ItemSelector == "" {
		c.ItemSelector = defaultItemSelector
	}
	if c.ReadinessSelector == "" {
		c.ReadinessSelector = c.ItemSelector
	}
	return c
}

// Engine drives a Browser through scroll/snapshot cycles. It holds no
// per-crawl state, so one Engine serves concurrent Crawl calls.
type Engine struct {
	browser crawler.Browser
	cfg     Config
	base    *url.URL
	clock   crawler.Clock
	logger  *zap.Logger
}

// state is the crawl session state; it lives for one Crawl call.
type state struct {
	records  []crawler.Record
	seen     map[string]struct{}
	height   int64
	attempts int
}

// New constructs an Engine.
func New(browser crawler.Browser, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Engine, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	return &Engine{
		browser: browser,
		cfg:     cfg,
		base:    base,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Validate checks that a request is well formed.
func Validate(req crawler.Request) error {
	if !validSource.MatchString(req.Source) {
		return fmt.Errorf("%w: source %q", crawler.ErrInvalidRequest, req.Source)
	}
	if _, ok := sortModes[req.SortMode]; !ok {
		return fmt.Errorf("%w: sort mode %q", crawler.ErrInvalidRequest, req.SortMode)
	}
	if req.TargetCount < 0 {
		return fmt.Errorf("%w: target count %d", crawler.ErrInvalidRequest, req.TargetCount)
	}
	return nil
}

// ListingURL builds the listing page address for req.
func (e *Engine) ListingURL(req crawler.Request) string {
	return strings.TrimRight(e.cfg.BaseURL, "/") + "/r/" + req.Source + "/" + req.SortMode + "/"
}

// Crawl runs one crawl. It never returns an error: every failure yields an
// empty (or, on cancellation, partial) record set with Result.Err set.
func (e *Engine) Crawl(ctx context.Context, req crawler.Request) (result crawler.Result) {
	logger := e.logger.With(
		zap.String("source", req.Source),
		zap.String("sort", req.SortMode),
		zap.Int("target", req.TargetCount),
	)
	if err := Validate(req); err != nil {
		logger.Warn("crawl request rejected", zap.Error(err))
		return crawler.Result{Outcome: crawler.OutcomeInvalid, Err: err}
	}
	if req.TargetCount == 0 {
		return crawler.Result{Outcome: crawler.OutcomeTargetReached, Records: []crawler.Record{}}
	}

	listingURL := e.ListingURL(req)
	logger.Info("crawl started", zap.String("url", listingURL))

	session, err := e.browser.Open(ctx, listingURL, e.cfg.NavigationTimeout)
	if err != nil {
		return e.fail(ctx, logger, nil, fmt.Errorf("open session: %w", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("browser session close failed", zap.Error(cerr))
			result.Err = errors.Join(result.Err, fmt.Errorf("close session: %w", cerr))
		}
	}()

	if err := session.WaitForContentReady(ctx, e.cfg.ReadinessSelector, e.cfg.ReadinessTimeout); err != nil {
		return e.fail(ctx, logger, nil, fmt.Errorf("wait for content: %w", err))
	}

	height, err := session.CurrentPageHeight(ctx)
	if err != nil {
		return e.fail(ctx, logger, nil, fmt.Errorf("initial height: %w", err))
	}
	st := &state{
		records: []crawler.Record{},
		seen:    make(map[string]struct{}),
		height:  height,
	}
	return e.scrollLoop(ctx, session, st, req.TargetCount, logger)
}

func (e *Engine) scrollLoop(
	ctx context.Context,
	session crawler.Session,
	st *state,
	target int,
	logger *zap.Logger,
) crawler.Result {
	outcome := crawler.OutcomeAttemptsExhausted
	for st.attempts < e.cfg.MaxAttempts && len(st.records) < target {
		if err := ctx.Err(); err != nil {
			return e.fail(ctx, logger, st, err)
		}
		logger.Debug("scroll attempt", zap.Int("attempt", st.attempts), zap.Int("accepted", len(st.records)))

		previous := st.height
		if err := session.ScrollToBottom(ctx); err != nil {
			return e.fail(ctx, logger, st, fmt.Errorf("scroll: %w", err))
		}
		if err := e.settle(ctx); err != nil {
			return e.fail(ctx, logger, st, err)
		}
		current, err := session.CurrentPageHeight(ctx)
		if err != nil {
			return e.fail(ctx, logger, st, fmt.Errorf("page height: %w", err))
		}
		if current == previous {
			logger.Info("page height unchanged; no more content", zap.Int64("height", current))
			outcome = crawler.OutcomeStalled
			break
		}
		st.height = current

		markup, err := session.SnapshotMarkup(ctx)
		if err != nil {
			return e.fail(ctx, logger, st, fmt.Errorf("snapshot: %w", err))
		}
		candidates, err := ParseCandidates(markup, e.cfg.ItemSelector)
		if err != nil {
			return e.fail(ctx, logger, st, err)
		}
		e.accept(st, candidates, logger)

		if len(st.records) >= target {
			outcome = crawler.OutcomeTargetReached
			break
		}
		st.attempts++
	}

	records := st.records
	if len(records) > target {
		records = records[:target]
	}
	logger.Info("crawl finished",
		zap.String("outcome", string(outcome)),
		zap.Int("records", len(records)),
		zap.Int("attempts", st.attempts),
	)
	return crawler.Result{Records: records, Outcome: outcome, Attempts: st.attempts}
}

func (e *Engine) accept(st *state, candidates []crawler.Candidate, logger *zap.Logger) {
	now := e.clock.Now()
	for _, c := range candidates {
		if c.ID != "" {
			if _, dup := st.seen[c.ID]; dup {
				continue
			}
		}
		rec, err := crawler.NewRecord(c, e.base, now)
		if err != nil {
			logger.Debug("candidate discarded", zap.String("id", c.ID), zap.Error(err))
			continue
		}
		st.records = append(st.records, rec)
		st.seen[rec.ID] = struct{}{}
	}
}

// settle blocks for the configured delay so lazy-loaded content can render.
func (e *Engine) settle(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.SettleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fail converts err into a terminal Result. Cancellation keeps whatever was
// accepted; every other failure yields no records.
func (e *Engine) fail(ctx context.Context, logger *zap.Logger, st *state, err error) crawler.Result {
	attempts := 0
	if st != nil {
		attempts = st.attempts
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		var records []crawler.Record
		if st != nil {
			records = st.records
		}
		logger.Warn("crawl canceled", zap.Int("records", len(records)), zap.Error(err))
		return crawler.Result{Records: records, Outcome: crawler.OutcomeCanceled, Attempts: attempts, Err: err}
	}
	err = classify(err)
	logger.Error("crawl aborted", zap.Int("attempts", attempts), zap.Error(err))
	return crawler.Result{Records: []crawler.Record{}, Outcome: crawler.OutcomeAborted, Attempts: attempts, Err: err}
}

func classify(err error) error {
	for _, known := range []error{
		crawler.ErrNavigationTimeout,
		crawler.ErrContentNotFound,
		crawler.ErrDriverStartup,
		crawler.ErrUnexpectedDriverFault,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", crawler.ErrUnexpectedDriverFault, err)
}
