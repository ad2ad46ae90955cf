// Package notify delivers user-facing toasts.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

type Kind string

const (
	Info  Kind = "info"
	Error Kind = "error"
)

type Notification struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is fire-and-forget: Notify must not block on delivery.
type Notifier interface {
	Notify(n Notification)
}

type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// Log writes notifications to a logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(n Notification) {
	ev := l.Logger.Info()
	if n.Kind == Error {
		ev = l.Logger.Warn()
	}
	ev.Str("kind", string(n.Kind)).Str("title", n.Title).Msg(n.Message)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
