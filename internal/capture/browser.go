package capture

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Browser visits URLs with a Chromium driven over the DevTools protocol. Every visit uses a
// fresh incognito context so that no cache or cookie is shared between URLs.
type Browser struct {
	Tool     string
	Bin      string
	Headless bool
	// ControlURL connects to a running browser instead of launching one.
	ControlURL string
	Timeout    time.Duration
	Dwell      time.Duration
	Logger     *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launched *launcher.Launcher
}

// Name implements Generator.
func (b *Browser) Name() string {
	return b.Tool
}

func (b *Browser) start() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.ControlURL
	if controlURL == "" {
		launch := launcher.New().Headless(b.Headless)
		if b.Bin != "" {
			launch = launch.Bin(b.Bin)
		}
		u, err := launch.Launch()
		if err != nil {
			return nil, errors.Wrap(err, "launch browser")
		}
		controlURL = u
		b.launched = launch
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		b.cleanup()
		return nil, errors.Wrap(err, "connect to browser")
	}
	b.logger().Info("browser connected", zap.String("control_url", controlURL))
	b.browser = browser
	return browser, nil
}

// Visit implements Generator.
func (b *Browser) Visit(ctx context.Context, t Target) error {
	browser, err := b.start()
	if err != nil {
		return err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return errors.Wrap(err, "incognito context")
	}
	defer incognito.Close()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return errors.Wrap(err, "create page")
	}
	defer page.Close()

	p := page.Context(ctx)
	if b.Timeout > 0 {
		p = p.Timeout(b.Timeout)
	}
	if err := p.Navigate(t.URL); err != nil {
		return errors.Wrapf(err, "navigate %s", t.URL)
	}
	if err := p.WaitLoad(); err != nil {
		return errors.Wrapf(err, "load %s", t.URL)
	}

	return sleep(ctx, b.Dwell)
}

// Close closes the browser and, when it was launched by Visit, waits for its process and
// removes its profile.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	b.cleanup()
	return errors.Wrap(err, "close browser")
}

func (b *Browser) cleanup() {
	if b.launched == nil {
		return
	}
	b.launched.Kill()
	b.launched.Cleanup()
	b.launched = nil
}

func (b *Browser) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}
