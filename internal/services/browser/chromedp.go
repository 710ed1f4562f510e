package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// ChromeDPConfig holds configuration for the chromedp driver
type ChromeDPConfig struct {
	Headless       bool          `json:"headless"`
	NoSandbox      bool          `json:"no_sandbox"`
	DisableGPU     bool          `json:"disable_gpu"`
	ExecutablePath string        `json:"executable_path"`
	StartupTimeout time.Duration `json:"startup_timeout"`
}

// ChromeDPDriver serves the chromium engine over the DevTools protocol. One
// browser process is shared; every session gets its own browser context so
// cookies and storage never leak between sessions.
type ChromeDPDriver struct {
	config ChromeDPConfig
	logger arbor.ILogger

	mu             sync.Mutex
	allocatorCtx   context.Context
	allocCancel    context.CancelFunc
	browserCtx     context.Context
	browserCancel  context.CancelFunc
	initialized    bool
	sessionCounter int64
}

// NewChromeDPDriver creates the driver; the browser starts on first use
func NewChromeDPDriver(config ChromeDPConfig, logger arbor.ILogger) *ChromeDPDriver {
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = 30 * time.Second
	}
	return &ChromeDPDriver{config: config, logger: logger}
}

func (d *ChromeDPDriver) Name() string {
	return "chromedp"
}

func (d *ChromeDPDriver) Engines() []models.Engine {
	return []models.Engine{models.EngineChromium}
}

// start launches the shared browser process and checks it responds
func (d *ChromeDPDriver) start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-gpu", d.config.DisableGPU),
		chromedp.Flag("no-sandbox", d.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", false),
		chromedp.Flag("disable-renderer-backgrounding", false),
	)
	if d.config.ExecutablePath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(d.config.ExecutablePath))
	}

	allocatorCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	// The first Run allocates the browser and ties it to browserCtx
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	testCtx, testCancel := context.WithTimeout(browserCtx, d.config.StartupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	d.allocatorCtx = allocatorCtx
	d.allocCancel = allocCancel
	d.browserCtx = browserCtx
	d.browserCancel = browserCancel
	d.initialized = true

	d.logger.Info().
		Bool("headless", d.config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Chromium browser started")

	return nil
}

// NewSession opens a new tab in a fresh browser context with listeners
// attached before the first navigation
func (d *ChromeDPDriver) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.PageSession, error) {
	if err := d.start(); err != nil {
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "start browser", Err: err}
	}

	d.mu.Lock()
	browserCtx := d.browserCtx
	d.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())

	s := &chromedpSession{
		ctx:     tabCtx,
		cancel:  tabCancel,
		events:  models.NewEventLog(),
		logger:  d.logger,
		opts:    opts,
		scale:   opts.Device.DeviceScaleFactor,
		mobile:  opts.Device.Mobile,
		started: time.Now(),
	}
	if s.scale <= 0 {
		s.scale = 1
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	actions := []chromedp.Action{
		network.Enable(),
		runtime.Enable(),
		page.Enable(),
		emulation.SetDeviceMetricsOverride(int64(opts.Device.Width), int64(opts.Device.Height), s.scale, opts.Device.Mobile),
	}
	if opts.Device.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.Device.UserAgent)
		if opts.Locale.HrefLang != "" {
			ua = ua.WithAcceptLanguage(opts.Locale.HrefLang)
		}
		actions = append(actions, ua)
	}
	if opts.Device.Touch {
		actions = append(actions, emulation.SetTouchEmulationEnabled(true))
	}
	if opts.Locale.HrefLang != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(opts.Locale.HrefLang, "-", "_")))
	}

	// Allocate the tab on its own context before any bounded call
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "open tab", Err: err}
	}
	if err := runWith(ctx, tabCtx, actions...); err != nil {
		tabCancel()
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "open session", Err: err}
	}

	if opts.RecordVideo && opts.ArtifactDir != "" {
		if err := s.startScreencast(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to start screencast - continuing without video")
		}
	}

	n := atomic.AddInt64(&d.sessionCounter, 1)
	d.logger.Debug().
		Int64("session", n).
		Str("device", opts.Device.Name).
		Str("locale", opts.Locale.Code).
		Msg("Chromium session opened")

	return s, nil
}

// Close shuts down the shared browser
func (d *ChromeDPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.browserCancel()
		d.allocCancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		d.logger.Warn().Msg("Browser shutdown timed out")
	}

	d.initialized = false
	d.logger.Debug().Msg("Chromium browser shut down")
	return nil
}

// bind derives a tab context that also ends with the caller's context.
// chromedp binds a tab to the context it was created with, so the caller's
// deadline and cancellation are forwarded explicitly.
func bind(ctx context.Context, tabCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(tabCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var dlCancel context.CancelFunc
		runCtx, dlCancel = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { dlCancel(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

// runWith runs actions on the tab bounded by the caller's context
func runWith(ctx context.Context, tabCtx context.Context, actions ...chromedp.Action) error {
	runCtx, done := bind(ctx, tabCtx)
	defer done()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// chromedpSession is one tab in its own browser context
type chromedpSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  *models.EventLog
	logger  arbor.ILogger
	opts    interfaces.SessionOptions
	scale   float64
	mobile  bool
	started time.Time

	frames    int64
	framesDir string
	closeOnce sync.Once
}

func (s *chromedpSession) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.events.Append(models.PageEvent{
			Type:      models.EventRequest,
			RequestID: string(e.RequestID),
			URL:       e.Request.URL,
			Method:    e.Request.Method,
		})
	case *network.EventResponseReceived:
		s.events.Append(models.PageEvent{
			Type:      models.EventResponse,
			RequestID: string(e.RequestID),
			URL:       e.Response.URL,
			Status:    int(e.Response.Status),
		})
	case *network.EventLoadingFinished:
		s.events.Append(models.PageEvent{Type: models.EventRequestDone, RequestID: string(e.RequestID)})
	case *network.EventLoadingFailed:
		s.events.Append(models.PageEvent{Type: models.EventRequestFailed, RequestID: string(e.RequestID), Text: e.ErrorText})
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if arg.Description != "" {
				parts = append(parts, arg.Description)
			} else {
				parts = append(parts, strings.Trim(string(arg.Value), `"`))
			}
		}
		s.events.Append(models.PageEvent{Type: models.EventConsole, Level: string(e.Type), Text: strings.Join(parts, " ")})
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		text := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			text = e.ExceptionDetails.Exception.Description
		}
		s.events.Append(models.PageEvent{Type: models.EventPageError, Level: "error", Text: text})
	case *page.EventScreencastFrame:
		s.onFrame(e)
	}
}

func (s *chromedpSession) startScreencast() error {
	s.framesDir = filepath.Join(s.opts.ArtifactDir, "video")
	if err := os.MkdirAll(s.framesDir, 0755); err != nil {
		return err
	}
	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return page.StartScreencast().
			WithFormat("png").
			WithEveryNthFrame(6).
			Do(ctx)
	}))
}

// onFrame stores a screencast frame and acknowledges it; Chrome stops sending
// frames until the previous one is acked
func (s *chromedpSession) onFrame(e *page.EventScreencastFrame) {
	n := atomic.AddInt64(&s.frames, 1)
	sessionID := e.SessionID
	data := e.Data
	common.SafeGo(s.logger, "screencastFrame", func() {
		if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
			_ = os.WriteFile(filepath.Join(s.framesDir, fmt.Sprintf("frame-%05d.png", n)), raw, 0644)
		}
		_ = chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return page.ScreencastFrameAck(sessionID).Do(ctx)
		}))
	})
}

// VideoPath returns the directory of captured screencast frames
func (s *chromedpSession) VideoPath() (string, error) {
	if s.framesDir == "" || atomic.LoadInt64(&s.frames) == 0 {
		return "", fmt.Errorf("no screencast frames: %w", models.ErrUnsupported)
	}
	return s.framesDir, nil
}

func (s *chromedpSession) Events() *models.EventLog {
	return s.events
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) (*models.NavigationResult, error) {
	started := time.Now()
	s.events.Append(models.PageEvent{Time: started, Type: models.EventNavigation, URL: url})

	runCtx, done := bind(ctx, s.ctx)
	defer done()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &models.NavigationError{URL: url, Err: err}
	}

	result := &models.NavigationResult{URL: url, Started: started}
	if resp != nil {
		result.Status = int(resp.Status)
		result.URL = resp.URL
	}
	return result, nil
}

// ordinalsScript maps the matched nodes, passed as arguments, onto their
// position in a document-order traversal of all elements
const ordinalsScript = `function(...els) {
	const all = document.getElementsByTagName('*');
	const index = new Map();
	for (let i = 0; i < all.length; i++) index.set(all[i], i);
	return els.map(e => index.has(e) ? index.get(e) : -1);
}`

// QueryAll resolves the selector to DOM nodes and keeps a remote object
// handle per node, so later calls act on the same element even when the
// document changes around it
func (s *chromedpSession) QueryAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	var nodes []*cdp.Node
	if err := runWith(ctx, s.ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	elements := make([]*chromedpElement, 0, len(nodes))
	err := runWith(ctx, s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		args := make([]*runtime.CallArgument, 0, len(nodes))
		for _, n := range nodes {
			obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
			if err != nil {
				return fmt.Errorf("resolve node %d: %w", n.NodeID, err)
			}
			elements = append(elements, &chromedpElement{session: s, nodeID: n.NodeID, object: obj.ObjectID})
			args = append(args, &runtime.CallArgument{ObjectID: obj.ObjectID})
		}

		var ordinals []int
		if err := callOn(ctx, elements[0].object, ordinalsScript, args, &ordinals); err != nil {
			return err
		}
		applyOrdinals(elements, ordinals)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	out := make([]interfaces.Element, len(elements))
	for i, el := range elements {
		out[i] = el
	}
	return out, nil
}

// applyOrdinals pairs ordinals with elements by position; an element with no
// reported ordinal is treated as detached
func applyOrdinals(elements []*chromedpElement, ordinals []int) {
	for i, el := range elements {
		el.ordinal = -1
		if i < len(ordinals) {
			el.ordinal = ordinals[i]
		}
	}
}

// callOn calls a function with this bound to the remote object and decodes
// the returned value into res
func callOn(ctx context.Context, object runtime.RemoteObjectID, fn string, args []*runtime.CallArgument, res interface{}) error {
	call := runtime.CallFunctionOn(fn).
		WithObjectID(object).
		WithReturnByValue(true)
	if len(args) > 0 {
		call = call.WithArguments(args)
	}
	result, exception, err := call.Do(ctx)
	if err != nil {
		return err
	}
	if exception != nil {
		return exception
	}
	if res == nil || result == nil || len(result.Value) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(result.Value), res)
}

func (s *chromedpSession) URL(ctx context.Context) (string, error) {
	var location string
	err := runWith(ctx, s.ctx, chromedp.Location(&location))
	return location, err
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	err := runWith(ctx, s.ctx, chromedp.Title(&title))
	return title, err
}

func (s *chromedpSession) SetViewport(ctx context.Context, width, height int) error {
	return runWith(ctx, s.ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), s.scale, s.mobile))
}

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := runWith(ctx, s.ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	var markup string
	err := runWith(ctx, s.ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))
	return markup, err
}

// Close stops the screencast and closes the tab and its browser context
func (s *chromedpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.framesDir != "" {
			_ = chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
				return page.StopScreencast().Do(ctx)
			}))
		}
		err = chromedp.Cancel(s.ctx)
		s.cancel()
	})
	return err
}

// chromedpElement is a handle to one DOM node. The ordinal is only the
// document-order sort key captured when the node was resolved.
type chromedpElement struct {
	session *chromedpSession
	nodeID  cdp.NodeID
	object  runtime.RemoteObjectID
	ordinal int
}

func (e *chromedpElement) Ordinal() int {
	return e.ordinal
}

func (e *chromedpElement) eval(ctx context.Context, body string, res interface{}) error {
	fn := fmt.Sprintf("function() { const el = this; %s }", body)
	return runWith(ctx, e.session.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callOn(ctx, e.object, fn, nil, res)
	}))
}

func (e *chromedpElement) Text(ctx context.Context) (string, error) {
	var text string
	err := e.eval(ctx, "return (el.innerText || el.textContent || '').trim();", &text)
	return text, err
}

func (e *chromedpElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var res struct {
		Value   string `json:"value"`
		Present bool   `json:"present"`
	}
	body := fmt.Sprintf("return {present: el.hasAttribute(%q), value: el.getAttribute(%q) || ''};", name, name)
	if err := e.eval(ctx, body, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Visible is false for nodes removed from the document since they were resolved
func (e *chromedpElement) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.eval(ctx, `if (!el.isConnected) return false;
		const st = getComputedStyle(el);
		return st.display !== 'none' && st.visibility !== 'hidden' &&
			!!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);`, &visible)
	return visible, err
}

func (e *chromedpElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.nodeID}
}

func (e *chromedpElement) Click(ctx context.Context) error {
	return runWith(ctx, e.session.ctx, chromedp.Click(e.ids(), chromedp.ByNodeID))
}

func (e *chromedpElement) Fill(ctx context.Context, value string) error {
	return runWith(ctx, e.session.ctx,
		chromedp.Clear(e.ids(), chromedp.ByNodeID),
		chromedp.SendKeys(e.ids(), value, chromedp.ByNodeID),
	)
}

var namedKeys = map[string]string{
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"backspace": kb.Backspace,
}

func (e *chromedpElement) Press(ctx context.Context, key string) error {
	if k, ok := namedKeys[strings.ToLower(key)]; ok {
		key = k
	}
	return runWith(ctx, e.session.ctx, chromedp.SendKeys(e.ids(), key, chromedp.ByNodeID))
}
