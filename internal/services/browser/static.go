package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/ternarybob/arbor"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// StaticDriverConfig holds configuration for the browserless HTTP engine
type StaticDriverConfig struct {
	// RequestTimeout bounds each single HTTP request (0 = context only)
	RequestTimeout time.Duration
	// SubresourceConcurrency bounds parallel sub-resource fetches
	SubresourceConcurrency int
	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper
}

// StaticDriver serves the "http" engine: documents and their sub-resources are
// fetched over plain HTTP and the DOM is parsed with goquery. There is no
// script execution, so visibility is approximated from markup.
type StaticDriver struct {
	config StaticDriverConfig
	logger arbor.ILogger
}

// NewStaticDriver creates the browserless driver
func NewStaticDriver(config StaticDriverConfig, logger arbor.ILogger) *StaticDriver {
	if config.SubresourceConcurrency <= 0 {
		config.SubresourceConcurrency = 4
	}
	return &StaticDriver{config: config, logger: logger}
}

func (d *StaticDriver) Name() string {
	return "static"
}

func (d *StaticDriver) Engines() []models.Engine {
	return []models.Engine{models.EngineHTTP}
}

// NewSession creates a session with its own cookie jar and event log
func (d *StaticDriver) NewSession(ctx context.Context, opts interfaces.SessionOptions) (interfaces.PageSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &models.InfrastructureError{Engine: opts.Engine, Op: "new session", Err: err}
	}

	transport := d.config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &staticSession{
		client: &http.Client{
			Jar:       jar,
			Transport: transport,
			Timeout:   d.config.RequestTimeout,
		},
		opts:        opts,
		events:      models.NewEventLog(),
		values:      make(map[int]string),
		concurrency: d.config.SubresourceConcurrency,
		logger:      d.logger,
		width:       opts.Device.Width,
		height:      opts.Device.Height,
	}, nil
}

func (d *StaticDriver) Close() error {
	return nil
}

// staticSession is one isolated browsing context of the HTTP engine
type staticSession struct {
	client      *http.Client
	opts        interfaces.SessionOptions
	events      *models.EventLog
	concurrency int
	logger      arbor.ILogger
	requestSeq  int64

	mu      sync.Mutex
	doc     *goquery.Document
	all     *goquery.Selection
	url     *url.URL
	values  map[int]string // filled form values by element ordinal
	width   int
	height  int
	closed  bool
	lastDoc string
}

func (s *staticSession) Events() *models.EventLog {
	return s.events
}

func (s *staticSession) Navigate(ctx context.Context, target string) (*models.NavigationResult, error) {
	return s.navigate(ctx, http.MethodGet, target)
}

func (s *staticSession) navigate(ctx context.Context, method, target string) (*models.NavigationResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	started := time.Now()
	s.events.Append(models.PageEvent{Time: started, Type: models.EventNavigation, URL: target, Method: method})

	resp, body, err := s.fetch(ctx, method, target)
	if err != nil {
		return nil, &models.NavigationError{URL: target, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &models.NavigationError{URL: target, Status: resp.StatusCode, Err: fmt.Errorf("failed to parse document: %w", err)}
	}

	finalURL := resp.Request.URL

	s.mu.Lock()
	s.doc = doc
	s.all = doc.Find("*")
	s.url = finalURL
	s.values = make(map[int]string)
	s.lastDoc = body
	s.mu.Unlock()

	s.fetchSubresources(ctx, doc, finalURL)

	return &models.NavigationResult{
		URL:     finalURL.String(),
		Status:  resp.StatusCode,
		Started: started,
	}, nil
}

// fetch performs one request and records it in the event log. The body is
// read completely before the request counts as finished.
func (s *staticSession) fetch(ctx context.Context, method, target string) (*http.Response, string, error) {
	id := "req-" + strconv.FormatInt(atomic.AddInt64(&s.requestSeq, 1), 10)

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, "", err
	}
	if s.opts.Device.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.Device.UserAgent)
	}
	if s.opts.Locale.HrefLang != "" {
		req.Header.Set("Accept-Language", s.opts.Locale.HrefLang)
	}

	s.events.Append(models.PageEvent{Type: models.EventRequest, RequestID: id, URL: target, Method: method})

	resp, err := s.client.Do(req)
	if err != nil {
		s.events.Append(models.PageEvent{Type: models.EventRequestFailed, RequestID: id, URL: target, Text: err.Error()})
		return nil, "", err
	}
	defer resp.Body.Close()

	s.events.Append(models.PageEvent{Type: models.EventResponse, RequestID: id, URL: resp.Request.URL.String(), Status: resp.StatusCode})

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.events.Append(models.PageEvent{Type: models.EventRequestFailed, RequestID: id, URL: target, Text: err.Error()})
		return nil, "", err
	}

	s.events.Append(models.PageEvent{Type: models.EventRequestDone, RequestID: id, URL: target})
	return resp, string(data), nil
}

// fetchSubresources loads scripts, stylesheets and images the way a browser
// would, so request and 404 counters reflect the page's real footprint
func (s *staticSession) fetchSubresources(ctx context.Context, doc *goquery.Document, base *url.URL) {
	var urls []string
	seen := make(map[string]bool)
	collect := func(selector, attr string) {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			ref, ok := sel.Attr(attr)
			if !ok || strings.TrimSpace(ref) == "" || strings.HasPrefix(ref, "data:") {
				return
			}
			u, err := base.Parse(strings.TrimSpace(ref))
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				return
			}
			if !seen[u.String()] {
				seen[u.String()] = true
				urls = append(urls, u.String())
			}
		})
	}
	collect("script[src]", "src")
	collect(`link[rel~="stylesheet"][href]`, "href")
	collect(`link[rel~="icon"][href]`, "href")
	collect("img[src]", "src")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			// Failures are recorded in the event log; they never abort the page
			if _, _, err := s.fetch(gctx, http.MethodGet, u); err != nil {
				s.logger.Debug().Err(err).Str("url", u).Msg("Sub-resource fetch failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *staticSession) QueryAll(ctx context.Context, selector string) ([]interfaces.Element, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	s.mu.Lock()
	doc, all := s.doc, s.all
	s.mu.Unlock()
	if doc == nil {
		return nil, nil
	}

	var elements []interfaces.Element
	doc.FindMatcher(matcher).Each(func(_ int, sel *goquery.Selection) {
		node := sel.Get(0)
		elements = append(elements, &staticElement{
			session: s,
			sel:     sel,
			node:    node,
			ordinal: all.IndexOfNode(node),
		})
	})
	return elements, nil
}

func (s *staticSession) URL(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.url == nil {
		return "about:blank", nil
	}
	return s.url.String(), nil
}

func (s *staticSession) Title(ctx context.Context) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", nil
	}
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

// SetViewport records the size; markup-only rendering has no layout to change
func (s *staticSession) SetViewport(ctx context.Context, width, height int) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
	return nil
}

func (s *staticSession) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("screenshot on %s engine: %w", models.EngineHTTP, models.ErrUnsupported)
}

// HTML returns the raw markup of the current document
func (s *staticSession) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDoc, nil
}

func (s *staticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.doc = nil
	s.all = nil
	s.client.CloseIdleConnections()
	return nil
}

func (s *staticSession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &models.InfrastructureError{Engine: models.EngineHTTP, Op: "session", Err: fmt.Errorf("session closed")}
	}
	return nil
}

func (s *staticSession) currentURL() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *staticSession) fieldValue(ordinal int, sel *goquery.Selection) string {
	s.mu.Lock()
	v, ok := s.values[ordinal]
	s.mu.Unlock()
	if ok {
		return v
	}
	if goquery.NodeName(sel) == "textarea" {
		return sel.Text()
	}
	return sel.AttrOr("value", "")
}

// submitForm submits a GET form the way a browser would on Enter
func (s *staticSession) submitForm(ctx context.Context, form *goquery.Selection) error {
	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	if method != http.MethodGet {
		return fmt.Errorf("submitting %s form: %w", method, models.ErrUnsupported)
	}

	base := s.currentURL()
	if base == nil {
		return fmt.Errorf("no document loaded")
	}
	action, err := base.Parse(form.AttrOr("action", ""))
	if err != nil {
		return fmt.Errorf("invalid form action: %w", err)
	}

	s.mu.Lock()
	all := s.all
	s.mu.Unlock()

	query := url.Values{}
	form.Find("input[name], select[name], textarea[name]").Each(func(_ int, field *goquery.Selection) {
		name, _ := field.Attr("name")
		fieldType := strings.ToLower(field.AttrOr("type", "text"))
		if fieldType == "submit" || fieldType == "button" || fieldType == "reset" {
			return
		}
		if (fieldType == "checkbox" || fieldType == "radio") && !field.Is("[checked]") {
			return
		}
		query.Add(name, s.fieldValue(all.IndexOfNode(field.Get(0)), field))
	})
	action.RawQuery = query.Encode()

	_, err = s.navigate(ctx, http.MethodGet, action.String())
	return err
}

// staticElement is a handle to one parsed node
type staticElement struct {
	session *staticSession
	sel     *goquery.Selection
	node    *html.Node
	ordinal int
}

func (e *staticElement) Ordinal() int {
	return e.ordinal
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	return strings.TrimSpace(e.sel.Text()), nil
}

func (e *staticElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

var invisibleTags = map[string]bool{
	"head": true, "title": true, "meta": true, "link": true, "script": true,
	"style": true, "template": true, "noscript": true, "base": true,
}

// Visible approximates rendering: the element and its ancestors must not be
// hidden by attribute or inline style
func (e *staticElement) Visible(ctx context.Context) (bool, error) {
	if goquery.NodeName(e.sel) == "input" && e.inputType() == "hidden" {
		return false, nil
	}
	for n := e.node; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if invisibleTags[n.Data] {
			return false, nil
		}
		for _, a := range n.Attr {
			switch a.Key {
			case "hidden":
				return false, nil
			case "style":
				style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false, nil
				}
			}
		}
	}
	return true, nil
}

// Click follows links and submits forms; other elements have no static behaviour
func (e *staticElement) Click(ctx context.Context) error {
	if link := e.sel.Closest("a[href]"); link.Length() > 0 {
		base := e.session.currentURL()
		href, _ := link.Attr("href")
		target, err := base.Parse(href)
		if err != nil {
			return fmt.Errorf("invalid link %q: %w", href, err)
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			return nil
		}
		_, err = e.session.navigate(ctx, http.MethodGet, target.String())
		return err
	}

	name := goquery.NodeName(e.sel)
	if (name == "button" || name == "input") && e.inputType() == "submit" {
		if form := e.sel.Closest("form"); form.Length() > 0 {
			return e.session.submitForm(ctx, form)
		}
	}
	return nil
}

// inputType is the lower-cased type attribute; buttons default to submit
func (e *staticElement) inputType() string {
	t, ok := e.sel.Attr("type")
	if !ok && goquery.NodeName(e.sel) == "button" {
		return "submit"
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func (e *staticElement) Fill(ctx context.Context, value string) error {
	if !e.sel.Is("input, textarea, select") {
		return fmt.Errorf("fill on <%s>: %w", goquery.NodeName(e.sel), models.ErrUnsupported)
	}
	e.session.mu.Lock()
	e.session.values[e.ordinal] = value
	e.session.mu.Unlock()
	return nil
}

// Press handles Enter inside a form (submit); other keys are accepted as no-ops
func (e *staticElement) Press(ctx context.Context, key string) error {
	if !strings.EqualFold(key, "Enter") {
		return nil
	}
	form := e.sel.Closest("form")
	if form.Length() == 0 {
		return nil
	}
	return e.session.submitForm(ctx, form)
}
