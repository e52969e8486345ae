package capture

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/cuongbtq/site-audit/internal/domain"
)

//go:embed snapshot.js
var snapshotScript string

// ChromeConfig selects how browsers are started
type ChromeConfig struct {
	// ExecPath overrides the Chrome binary lookup
	ExecPath string
	// RemoteURL connects to an already running browser (ws:// or http://)
	RemoteURL string
	NoSandbox bool
}

// ChromeLauncher starts chromedp sessions
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *slog.Logger
}

// NewChromeLauncher creates a new ChromeLauncher
func NewChromeLauncher(cfg ChromeConfig, logger *slog.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

// Launch starts a fresh browser for one capture. The browser lives until
// Close, independent of ctx; ctx only bounds the startup.
func (l *ChromeLauncher) Launch(ctx context.Context, userAgent string) (Session, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if l.cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), l.cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.UserAgent(userAgent),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if l.cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if l.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			l.logger.Debug("chromedp", slog.String("message", fmt.Sprintf(format, args...)))
		}),
	)

	s := &chromeSession{
		ctx:           browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		idle:          make(chan struct{}),
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			s.markIdle()
		}
	})

	// the first Run starts the browser and must use the session context itself
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx,
		page.SetLifecycleEventsEnabled(true),
		emulation.SetUserAgentOverride(userAgent),
	)
	aborted := !stop()
	if err != nil || aborted {
		s.Close()
		if aborted {
			return nil, fmt.Errorf("browser launch aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return s, nil
}

type chromeSession struct {
	ctx           context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
	closeErr      error

	mu         sync.Mutex
	idle       chan struct{}
	idleClosed bool
}

// derive returns a context that runs actions on this tab and ends with ctx
func (s *chromeSession) derive(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := s.derive(ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	return callerErr(ctx, err)
}

// callerErr reports the caller's context error when it caused the failure
func callerErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (s *chromeSession) SetViewport(ctx context.Context, vp Viewport) error {
	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(vp.Scale)}
	if vp.Mobile {
		opts = append(opts, chromedp.EmulateMobile, chromedp.EmulateTouch)
	}
	return s.run(ctx, chromedp.EmulateViewport(vp.Width, vp.Height, opts...))
}

func (s *chromeSession) Navigate(ctx context.Context, url string) (int, error) {
	s.resetIdle()

	runCtx, cancel := s.derive(ctx)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, callerErr(ctx, err)
	}
	if resp == nil {
		return 0, errors.New("no response for main document")
	}

	return int(resp.Status), nil
}

func (s *chromeSession) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chromeSession) ScrollHeight(ctx context.Context) (int, error) {
	var height float64
	err := s.run(ctx, chromedp.Evaluate(
		`Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)`,
		&height,
	))
	if err != nil {
		return 0, err
	}
	return int(height), nil
}

func (s *chromeSession) ScrollTo(ctx context.Context, y int) error {
	var ok bool
	return s.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollTo(0, %d), true`, y), &ok))
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 yields PNG
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromeSession) Snapshot(ctx context.Context, maxElements int) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	expr := fmt.Sprintf("(%s)(%d)", snapshotScript, maxElements)
	if err := s.run(ctx, chromedp.Evaluate(expr, &snapshot)); err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

func (s *chromeSession) Reload(ctx context.Context) error {
	s.resetIdle()
	return s.run(ctx,
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Close shuts the tab and the browser process; later calls return the first result
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.browserCancel()
		s.allocCancel()
		if errors.Is(s.closeErr, context.Canceled) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

func (s *chromeSession) resetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = make(chan struct{})
	s.idleClosed = false
}

func (s *chromeSession) markIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.idleClosed {
		close(s.idle)
		s.idleClosed = true
	}
}
