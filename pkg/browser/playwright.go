package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// heapProbeScript reads the Chromium-only performance.memory extension.
// Other engines return null, which MemoryBytes reports as unknown.
const heapProbeScript = `() => performance.memory ? performance.memory.usedJSHeapSize : null`

// PlaywrightFactory implements Factory on a single shared Chromium process.
// Each Create call opens a fresh BrowserContext, so sessions share the
// process but see isolated cookies, storage and cache.
type PlaywrightFactory struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	chrome  playwright.Browser
	started bool
}

// NewPlaywrightFactory creates a factory with the given configuration.
// Start must be called before Create.
func NewPlaywrightFactory(config Config, logger *slog.Logger) *PlaywrightFactory {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()
	return &PlaywrightFactory{
		config: config,
		logger: logger,
	}
}

// Start launches the Playwright driver and the shared Chromium process.
// Calling Start on a started factory is a no-op.
func (f *PlaywrightFactory) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return nil
	}

	// Driver output would interleave with our own logs on stderr.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if f.config.InstallBrowsers {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("installing playwright browsers: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("starting playwright driver: %w", err)
	}

	headless := !f.config.Headful
	chrome, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launching chromium: %w", err)
	}

	f.pw = pw
	f.chrome = chrome
	f.started = true
	f.logger.Info("browser: chromium launched", "headless", headless)
	return nil
}

// Create opens an isolated browser context with a single page for the
// session. The context and page are torn down together by Resource.Close.
func (f *PlaywrightFactory) Create(_ context.Context, sessionID string) (Resource, error) {
	f.mu.Lock()
	chrome := f.chrome
	started := f.started
	f.mu.Unlock()

	if !started {
		return nil, fmt.Errorf("browser factory not started")
	}

	bctx, err := chrome.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  f.config.ViewportWidth,
			Height: f.config.ViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("creating page: %w", err)
	}
	page.SetDefaultTimeout(float64(f.config.NavigationTimeout.Milliseconds()))

	f.logger.Debug("browser: context created", "session_id", sessionID)
	return &playwrightResource{
		page:   page,
		bctx:   bctx,
		closed: make(chan struct{}),
	}, nil
}

// Stop closes the shared Chromium process and the Playwright driver.
// Resources created by this factory become unusable afterwards.
func (f *PlaywrightFactory) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return nil
	}
	f.started = false

	_ = f.chrome.Close()
	if err := f.pw.Stop(); err != nil {
		return fmt.Errorf("stopping playwright driver: %w", err)
	}
	return nil
}

// playwrightResource is one session's BrowserContext plus its page.
type playwrightResource struct {
	page playwright.Page
	bctx playwright.BrowserContext

	closeOnce sync.Once
	closed    chan struct{}
}

// Navigate loads url and returns the page URL after redirects.
func (r *playwrightResource) Navigate(_ context.Context, url, waitUntil string) (string, error) {
	opts := playwright.PageGotoOptions{}
	if waitUntil != "" {
		state := playwright.WaitUntilState(waitUntil)
		opts.WaitUntil = &state
	}

	if _, err := r.page.Goto(url, opts); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}
	return r.page.URL(), nil
}

// Extract returns the text content of the first match for selector, or the
// document body when selector is empty.
func (r *playwrightResource) Extract(_ context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}

	element, err := r.page.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("selector query failed: %w", err)
	}
	if element == nil {
		return "", fmt.Errorf("no element found matching selector: %s", selector)
	}

	content, err := element.TextContent()
	if err != nil {
		return "", fmt.Errorf("text extraction failed: %w", err)
	}
	return content, nil
}

// Screenshot captures the current page as PNG bytes.
func (r *playwrightResource) Screenshot(_ context.Context, fullPage bool) ([]byte, error) {
	data, err := r.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: &fullPage,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// MemoryBytes probes the page's JS heap. The probe only works on Chromium;
// anywhere it cannot answer the result is an error, never a zero.
func (r *playwrightResource) MemoryBytes(_ context.Context) (int64, error) {
	result, err := r.page.Evaluate(heapProbeScript)
	if err != nil {
		return 0, fmt.Errorf("heap probe failed: %w", err)
	}
	return coerceHeapBytes(result)
}

// Close tears down the page and context. Driver calls are synchronous, so
// the work runs in a goroutine and Close returns early if ctx expires; the
// teardown itself still completes in the background. Repeated calls wait on
// the same teardown.
func (r *playwrightResource) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		go func() {
			defer close(r.closed)
			_ = r.page.Close()
			_ = r.bctx.Close()
		}()
	})

	select {
	case <-r.closed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing browser context: %w", ctx.Err())
	}
}

// coerceHeapBytes converts the probe's JS value into bytes. Playwright
// deserializes JS numbers as int or float64 depending on magnitude.
func coerceHeapBytes(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case nil:
		return 0, fmt.Errorf("heap probe unsupported by browser engine")
	default:
		return 0, fmt.Errorf("heap probe returned unexpected type %T", v)
	}
}

// Verify interface compliance.
var (
	_ Factory  = (*PlaywrightFactory)(nil)
	_ Resource = (*playwrightResource)(nil)
)
