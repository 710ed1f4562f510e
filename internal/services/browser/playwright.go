package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// PlaywrightConfig holds configuration for the playwright driver
type PlaywrightConfig struct {
	Headless bool
	// Engines served by this driver (default: firefox, webkit)
	Engines []models.Engine
}

// PlaywrightDriver serves firefox and webkit (and chromium when configured)
// through playwright. Browsers are launched lazily, one per engine; every
// session is a new BrowserContext.
type PlaywrightDriver struct {
	config PlaywrightConfig
	logger arbor.ILogger

	mu       sync.Mutex
	pw       *playwright.Playwright
	browsers map[models.Engine]playwright.Browser
}

// NewPlaywrightDriver creates the driver; playwright starts on first use
func NewPlaywrightDriver(config PlaywrightConfig, logger arbor.ILogger) *PlaywrightDriver {
	if len(config.Engines) == 0 {
		config.Engines = []models.Engine{models.EngineFirefox, models.EngineWebKit}
	}
	return &PlaywrightDriver{
		config:   config,
		logger:   logger,
		browsers: make(map[models.Engine]playwright.Browser),
	}
}

func (d *PlaywrightDriver) Name() string {
	return "playwright"
}

func (d *PlaywrightDriver) Engines() []models.Engine {
	return d.config.Engines
}

func (d *PlaywrightDriver) browser(engine models.Engine) (playwright.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.browsers[engine]; ok && b.IsConnected() {
		return b, nil
	}

	if d.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		d.pw = pw
	}

	var browserType playwright.BrowserType
	switch engine {
	case models.EngineChromium:
		browserType = d.pw.Chromium
	case models.EngineFirefox:
		browserType = d.pw.Firefox
	case models.EngineWebKit:
		browserType = d.pw.WebKit
	default:
		return nil, fmt.Errorf("engine %q: %w", engine, models.ErrUnsupported)
	}

	startTime := time.Now()
	b, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.config.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", engine, err)
	}
	d.browsers[engine] = b

	d.logger.Info().
		Str("engine", string(engine)).
		Str("version", b.Version()).
		Dur("startup_time", time.Since(startTime)).
		Msg("Playwright browser launched")

	return b, nil
}

// NewSession creates an isolated BrowserContext and page with listeners
// attached before the first navigation
func (d *PlaywrightDriver) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.PageSession, error) {
	b, err := d.browser(opts.Engine)
	if err != nil {
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "launch", Err: err}
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: opts.Device.Width, Height: opts.Device.Height},
		HasTouch: playwright.Bool(opts.Device.Touch),
	}
	if opts.Device.DeviceScaleFactor > 0 {
		contextOpts.DeviceScaleFactor = playwright.Float(opts.Device.DeviceScaleFactor)
	}
	// Firefox does not support mobile emulation
	if opts.Engine != models.EngineFirefox {
		contextOpts.IsMobile = playwright.Bool(opts.Device.Mobile)
	}
	if opts.Device.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.Device.UserAgent)
	}
	if opts.Locale.HrefLang != "" {
		contextOpts.Locale = playwright.String(opts.Locale.HrefLang)
	}
	if opts.RecordVideo && opts.ArtifactDir != "" {
		contextOpts.RecordVideo = &playwright.RecordVideo{Dir: opts.ArtifactDir}
	}

	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "new context", Err: err}
	}

	if opts.Trace {
		if err := bctx.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		}); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to start playwright tracing")
		}
	}

	pg, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "new page", Err: err}
	}

	s := &playwrightSession{
		bctx:    bctx,
		page:    pg,
		engine:  opts.Engine,
		events:  models.NewEventLog(),
		tracing: opts.Trace,
		ids:     make(map[playwright.Request]string),
	}
	s.attach()

	return s, nil
}

// Close closes every launched browser and stops playwright
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for engine, b := range d.browsers {
		if err := b.Close(); err != nil {
			d.logger.Warn().Err(err).Str("engine", string(engine)).Msg("Failed to close browser")
		}
	}
	d.browsers = make(map[models.Engine]playwright.Browser)

	if d.pw != nil {
		err := d.pw.Stop()
		d.pw = nil
		return err
	}
	return nil
}

// playwrightSession is one BrowserContext with a single page
type playwrightSession struct {
	bctx    playwright.BrowserContext
	page    playwright.Page
	engine  models.Engine
	events  *models.EventLog
	tracing bool

	mu     sync.Mutex
	ids    map[playwright.Request]string
	seq    int
	closed bool
	video  string
}

func (s *playwrightSession) requestID(req playwright.Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ids[req]
	if !ok {
		s.seq++
		id = fmt.Sprintf("pw-%d", s.seq)
		s.ids[req] = id
	}
	return id
}

func (s *playwrightSession) attach() {
	s.page.OnRequest(func(req playwright.Request) {
		s.events.Append(models.PageEvent{Type: models.EventRequest, RequestID: s.requestID(req), URL: req.URL(), Method: req.Method()})
	})
	s.page.OnResponse(func(resp playwright.Response) {
		s.events.Append(models.PageEvent{Type: models.EventResponse, RequestID: s.requestID(resp.Request()), URL: resp.URL(), Status: resp.Status()})
	})
	s.page.OnRequestFinished(func(req playwright.Request) {
		s.events.Append(models.PageEvent{Type: models.EventRequestDone, RequestID: s.requestID(req), URL: req.URL()})
	})
	s.page.OnRequestFailed(func(req playwright.Request) {
		text := ""
		if f := req.Failure(); f != nil {
			text = f.Error()
		}
		s.events.Append(models.PageEvent{Type: models.EventRequestFailed, RequestID: s.requestID(req), URL: req.URL(), Text: text})
	})
	s.page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.events.Append(models.PageEvent{Type: models.EventConsole, Level: msg.Type(), Text: msg.Text()})
	})
	s.page.OnPageError(func(err error) {
		s.events.Append(models.PageEvent{Type: models.EventPageError, Level: "error", Text: err.Error()})
	})
}

// timeoutMs converts the caller's deadline into a playwright timeout
func timeoutMs(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(ms)
}

func (s *playwrightSession) Events() *models.EventLog {
	return s.events
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) (*models.NavigationResult, error) {
	started := time.Now()
	s.events.Append(models.PageEvent{Time: started, Type: models.EventNavigation, URL: url})

	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutMs(ctx),
	})
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &models.NavigationError{URL: url, Err: err}
	}

	result := &models.NavigationResult{URL: s.page.URL(), Started: started}
	if resp != nil {
		result.Status = resp.Status()
	}
	return result, nil
}

const ordinalExpr = `el => Array.prototype.indexOf.call(document.getElementsByTagName('*'), el)`

func (s *playwrightSession) QueryAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	handles, err := s.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	elements := make([]interfaces.Element, 0, len(handles))
	for _, h := range handles {
		v, err := h.Evaluate(ordinalExpr)
		if err != nil {
			return nil, fmt.Errorf("ordinal of %q: %w", selector, err)
		}
		elements = append(elements, &playwrightElement{handle: h, ordinal: toInt(v)})
	}
	return elements, nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return -1
}

func (s *playwrightSession) URL(ctx context.Context) (string, error) {
	return s.page.URL(), nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	return s.page.Title()
}

func (s *playwrightSession) SetViewport(ctx context.Context, width, height int) error {
	return s.page.SetViewportSize(width, height)
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  timeoutMs(ctx),
	})
}

func (s *playwrightSession) HTML(ctx context.Context) (string, error) {
	return s.page.Content()
}

// ExportTrace stops tracing into a playwright trace archive
func (s *playwrightSession) ExportTrace(ctx context.Context, path string) error {
	if !s.tracing {
		return fmt.Errorf("tracing not enabled: %w", models.ErrUnsupported)
	}
	s.tracing = false
	return s.bctx.Tracing().Stop(path)
}

// VideoPath is available once the session is closed
func (s *playwrightSession) VideoPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == "" {
		return "", fmt.Errorf("no video recorded: %w", models.ErrUnsupported)
	}
	return s.video, nil
}

func (s *playwrightSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.tracing {
		_ = s.bctx.Tracing().Stop()
	}
	video := s.page.Video()
	err := s.bctx.Close()
	if video != nil {
		if p, verr := video.Path(); verr == nil {
			s.mu.Lock()
			s.video = p
			s.mu.Unlock()
		}
	}
	return err
}

// playwrightElement wraps an element handle
type playwrightElement struct {
	handle  playwright.ElementHandle
	ordinal int
}

func (e *playwrightElement) Ordinal() int {
	return e.ordinal
}

func (e *playwrightElement) Text(ctx context.Context) (string, error) {
	v, err := e.handle.Evaluate(`el => (el.innerText || el.textContent || '').trim()`)
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}

func (e *playwrightElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.handle.Evaluate(`(el, n) => el.hasAttribute(n) ? el.getAttribute(n) : null`, name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	value, _ := v.(string)
	return value, true, nil
}

func (e *playwrightElement) Visible(ctx context.Context) (bool, error) {
	return e.handle.IsVisible()
}

func (e *playwrightElement) Click(ctx context.Context) error {
	return e.handle.Click(playwright.ElementHandleClickOptions{Timeout: timeoutMs(ctx)})
}

func (e *playwrightElement) Fill(ctx context.Context, value string) error {
	return e.handle.Fill(value, playwright.ElementHandleFillOptions{Timeout: timeoutMs(ctx)})
}

func (e *playwrightElement) Press(ctx context.Context, key string) error {
	return e.handle.Press(key, playwright.ElementHandlePressOptions{Timeout: timeoutMs(ctx)})
}
