package models

import (
	"sync"
	"time"
)

// PageEventType is the kind of a captured session event
type PageEventType string

const (
	EventRequest       PageEventType = "request"
	EventResponse      PageEventType = "response"
	EventRequestDone   PageEventType = "request_finished"
	EventRequestFailed PageEventType = "request_failed"
	EventConsole       PageEventType = "console"
	EventPageError     PageEventType = "page_error"
	EventNavigation    PageEventType = "navigation"
)

// PageEvent is one console or network event observed by a PageSession
type PageEvent struct {
	Time      time.Time     `json:"time"`
	Type      PageEventType `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	URL       string        `json:"url,omitempty"`
	Method    string        `json:"method,omitempty"`
	Status    int           `json:"status,omitempty"`
	Level     string        `json:"level,omitempty"`
	Text      string        `json:"text,omitempty"`
}

// EventLog is the append-only event log owned by one PageSession. Driver
// callbacks append from their own goroutines; readers take snapshots.
type EventLog struct {
	mu       sync.Mutex
	events   []PageEvent
	inFlight map[string]struct{}
	lastAct  time.Time
	now      func() time.Time
}

// NewEventLog creates an empty log
func NewEventLog() *EventLog {
	return &EventLog{
		inFlight: make(map[string]struct{}),
		now:      time.Now,
		lastAct:  time.Now(),
	}
}

// Append records an event and updates the in-flight request set
func (l *EventLog) Append(ev PageEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	l.events = append(l.events, ev)

	switch ev.Type {
	case EventRequest:
		if ev.RequestID != "" {
			l.inFlight[ev.RequestID] = struct{}{}
		}
		l.lastAct = ev.Time
	case EventRequestDone, EventRequestFailed:
		delete(l.inFlight, ev.RequestID)
		l.lastAct = ev.Time
	case EventResponse:
		l.lastAct = ev.Time
	}
}

// Snapshot returns a copy of all events recorded so far
func (l *EventLog) Snapshot() []PageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PageEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len is the number of recorded events
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// InFlight is the number of requests started but not yet finished or failed
func (l *EventLog) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}

// LastActivity is the time of the most recent network event
func (l *EventLog) LastActivity() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastAct
}

// Requests counts issued requests
func (l *EventLog) Requests() int {
	return l.count(func(ev PageEvent) bool { return ev.Type == EventRequest })
}

// NotFound returns the URLs of responses with status 404
func (l *EventLog) NotFound() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var urls []string
	for _, ev := range l.events {
		if ev.Type == EventResponse && ev.Status == 404 {
			urls = append(urls, ev.URL)
		}
	}
	return urls
}

// ConsoleErrors returns error-level console messages and uncaught page errors
func (l *EventLog) ConsoleErrors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, ev := range l.events {
		if ev.Type == EventPageError || (ev.Type == EventConsole && ev.Level == "error") {
			msgs = append(msgs, ev.Text)
		}
	}
	return msgs
}

func (l *EventLog) count(match func(PageEvent) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if match(ev) {
			n++
		}
	}
	return n
}

// NavigationResult is what a PageSession reports for one navigation
type NavigationResult struct {
	URL     string    `json:"url"`
	Status  int       `json:"status"`
	Started time.Time `json:"started"`
}

// StepRecord is one entry of an attempt's step timeline
type StepRecord struct {
	Step     string        `json:"step"`
	Kind     StepKind      `json:"kind"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
