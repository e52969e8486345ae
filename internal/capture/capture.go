// Package capture drives a headless browser through the desktop and mobile
// passes of an audit.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// Capture step names, reported in CaptureError.Step
const (
	StepLaunch          = "launch"
	StepDesktopViewport = "desktop_viewport"
	StepNavigate        = "navigate"
	StepNetworkIdle     = "network_idle"
	StepScroll          = "scroll"
	StepDesktopShot     = "desktop_screenshot"
	StepSnapshot        = "snapshot"
	StepMobileViewport  = "mobile_viewport"
	StepReload          = "reload"
	StepMobileShot      = "mobile_screenshot"
)

// Config holds the capture timings and limits
type Config struct {
	UserAgent          string
	NavigationTimeout  time.Duration
	NetworkIdleTimeout time.Duration
	StepTimeout        time.Duration
	ReloadTimeout      time.Duration
	ScrollStep         int
	ScrollInterval     time.Duration
	MaxScrollSteps     int
	SettleDelay        time.Duration
	RelayoutDelay      time.Duration
	MaxElements        int
}

// DefaultUserAgent is a desktop Chrome user agent string
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 25 * time.Second
	}
	if c.NetworkIdleTimeout <= 0 {
		c.NetworkIdleTimeout = 10 * time.Second
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 30 * time.Second
	}
	if c.ReloadTimeout <= 0 {
		c.ReloadTimeout = 20 * time.Second
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = 600
	}
	if c.ScrollInterval <= 0 {
		c.ScrollInterval = 100 * time.Millisecond
	}
	if c.MaxScrollSteps <= 0 {
		c.MaxScrollSteps = 50
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 1500 * time.Millisecond
	}
	if c.RelayoutDelay <= 0 {
		c.RelayoutDelay = time.Second
	}
	if c.MaxElements <= 0 {
		c.MaxElements = 50
	}
	return c
}

// Result holds both screenshots and the desktop snapshot
type Result struct {
	Desktop    []byte
	Mobile     []byte
	Snapshot   domain.Snapshot
	StatusCode int
	Duration   time.Duration
}

// Engine runs the capture sequence against sessions from a Launcher
type Engine struct {
	launcher Launcher
	cfg      Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a new Engine
func NewEngine(launcher Launcher, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		launcher: launcher,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Capture opens one session, captures url and closes the session on every
// path. Failures are *domain.CaptureError.
func (e *Engine) Capture(ctx context.Context, url string) (*Result, error) {
	start := time.Now()
	logger := e.logger.With(slog.String("url", url))

	if err := ctx.Err(); err != nil {
		return nil, classify(StepLaunch, err)
	}

	session, err := e.launcher.Launch(ctx, e.cfg.UserAgent)
	if err != nil {
		return nil, classify(StepLaunch, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Failed to close browser session", slog.String("error", err.Error()))
		}
	}()

	result := &Result{}

	err = e.step(ctx, StepDesktopViewport, e.cfg.StepTimeout, func(ctx context.Context) error {
		return session.SetViewport(ctx, DesktopViewport)
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, StepNavigate, e.cfg.NavigationTimeout, func(ctx context.Context) error {
		status, err := session.Navigate(ctx, url)
		if err != nil {
			return err
		}
		result.StatusCode = status
		if status < 200 || status >= 400 {
			return fmt.Errorf("main document returned status %d", status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// expiry of the idle wait is not an error, only cancellation is
	err = e.step(ctx, StepNetworkIdle, 0, func(ctx context.Context) error {
		return session.WaitNetworkIdle(ctx, e.cfg.NetworkIdleTimeout)
	})
	if err != nil {
		return nil, err
	}

	if err := e.step(ctx, StepScroll, e.cfg.StepTimeout, func(ctx context.Context) error {
		return e.scrollThrough(ctx, session)
	}); err != nil {
		return nil, err
	}

	err = e.step(ctx, StepDesktopShot, e.cfg.StepTimeout, func(ctx context.Context) error {
		shot, err := session.Screenshot(ctx)
		result.Desktop = shot
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, StepSnapshot, e.cfg.StepTimeout, func(ctx context.Context) error {
		snapshot, err := session.Snapshot(ctx, e.cfg.MaxElements)
		if len(snapshot.Elements) > e.cfg.MaxElements {
			snapshot.Elements = snapshot.Elements[:e.cfg.MaxElements]
		}
		result.Snapshot = snapshot
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, StepMobileViewport, e.cfg.StepTimeout, func(ctx context.Context) error {
		return session.SetViewport(ctx, MobileViewport)
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, StepReload, e.cfg.ReloadTimeout, func(ctx context.Context) error {
		if err := session.Reload(ctx); err != nil {
			return err
		}
		return e.sleep(ctx, e.cfg.RelayoutDelay)
	})
	if err != nil {
		return nil, err
	}

	err = e.step(ctx, StepMobileShot, e.cfg.StepTimeout, func(ctx context.Context) error {
		shot, err := session.Screenshot(ctx)
		result.Mobile = shot
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	logger.Info("Capture completed",
		slog.Int("status_code", result.StatusCode),
		slog.Int("desktop_bytes", len(result.Desktop)),
		slog.Int("mobile_bytes", len(result.Mobile)),
		slog.Int("elements", len(result.Snapshot.Elements)),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// scrollThrough walks the page to trigger lazy content, then returns to the top
func (e *Engine) scrollThrough(ctx context.Context, session Session) error {
	height, err := session.ScrollHeight(ctx)
	if err != nil {
		return err
	}

	for i := 1; i <= e.cfg.MaxScrollSteps && i*e.cfg.ScrollStep < height; i++ {
		if err := session.ScrollTo(ctx, i*e.cfg.ScrollStep); err != nil {
			return err
		}
		if err := e.sleep(ctx, e.cfg.ScrollInterval); err != nil {
			return err
		}
	}

	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		return err
	}

	return session.ScrollTo(ctx, 0)
}

// step runs fn under an optional timeout and tags any failure
func (e *Engine) step(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(stepCtx)
	if err == nil {
		return nil
	}

	if stepCtx.Err() != nil && !errors.Is(err, stepCtx.Err()) {
		err = fmt.Errorf("%w: %w", stepCtx.Err(), err)
	}

	e.logger.Warn("Capture step failed",
		slog.String("step", name),
		slog.String("error", err.Error()),
	)

	return classify(name, err)
}

func classify(step string, err error) error {
	var captureErr *domain.CaptureError
	if errors.As(err, &captureErr) {
		return captureErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.NewCaptureError(domain.CaptureTimeout, step, err)
	case step == StepNavigate:
		return domain.NewCaptureError(domain.CaptureNavigationFailed, step, err)
	default:
		return domain.NewCaptureError(domain.CaptureBrowserCrash, step, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
