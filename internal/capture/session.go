package capture

import (
	"context"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// Viewport describes an emulated device screen
type Viewport struct {
	Width  int64
	Height int64
	Scale  float64
	Mobile bool
}

var (
	// DesktopViewport is used for the first capture pass
	DesktopViewport = Viewport{Width: 1366, Height: 768, Scale: 1}

	// MobileViewport is used for the second capture pass
	MobileViewport = Viewport{Width: 375, Height: 812, Scale: 2, Mobile: true}
)

// Launcher starts isolated browser sessions
type Launcher interface {
	Launch(ctx context.Context, userAgent string) (Session, error)
}

// Session is one browser tab. Every blocking method honors ctx.
// Close must be safe to call more than once.
type Session interface {
	SetViewport(ctx context.Context, vp Viewport) error
	// Navigate loads url and returns the main document's HTTP status.
	Navigate(ctx context.Context, url string) (int, error)
	// WaitNetworkIdle returns nil when the page goes idle or timeout elapses.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	ScrollHeight(ctx context.Context) (int, error)
	ScrollTo(ctx context.Context, y int) error
	Screenshot(ctx context.Context) ([]byte, error)
	Snapshot(ctx context.Context, maxElements int) (domain.Snapshot, error)
	// Reload reloads the page and waits for the DOM to be ready.
	Reload(ctx context.Context) error
	Close() error
}
