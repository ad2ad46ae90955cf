// Package sse provides Server-Sent Events client management for real-time communication.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/notify"
)

var sseLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	sseLogger = l
}

const (
	EventNotification = "notification"
	EventPostChanged  = "post_changed"
)

type Client struct {
	Msg chan string
	Key model.PostKey
}

type SSEClients struct {
	clients map[*Client]bool
	mu      sync.RWMutex
}

func NewSSEClients() *SSEClients {
	return &SSEClients{
		clients: make(map[*Client]bool),
	}
}

func (s *SSEClients) Add(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *SSEClients) Delete(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, client)
	close(client.Msg)
}

func (s *SSEClients) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast sends a named event to every client watching key. Slow clients miss the event.
func (s *SSEClients) Broadcast(key model.PostKey, event, data string) {
	msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.Key == key {
			select {
			case client.Msg <- msg:
			default:
			}
		}
	}
}

type postNotifier struct {
	clients *SSEClients
	key     model.PostKey
}

func (p postNotifier) Notify(n notify.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		sseLogger.Error().Err(err).Msg("Error encoding notification")
		return
	}
	p.clients.Broadcast(p.key, EventNotification, string(data))
}

// Notifier delivers notifications to the editors of one post.
func (s *SSEClients) Notifier(key model.PostKey) notify.Notifier {
	return postNotifier{clients: s, key: key}
}

// PostChanged tells the editors of a post that its stored record changed.
func (s *SSEClients) PostChanged(key model.PostKey) {
	s.Broadcast(key, EventPostChanged, key.String())
}

// Handler streams the events of the post named by the "client" and "post" path values. The
// agency comes from the caller, so a client only ever hears about its own agency's posts.
func (s *SSEClients) Handler(agency func(context.Context) (model.AgencyID, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := agency(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		key := model.PostKey{Agency: a, Client: model.ClientID(r.PathValue("client")), Post: model.PostID(r.PathValue("post"))}
		if key.Client == "" || key.Post == "" {
			http.Error(w, "Client and post required", http.StatusBadRequest)
			return
		}
		s.stream(w, r, key)
	}
}

func (s *SSEClients) stream(w http.ResponseWriter, r *http.Request, key model.PostKey) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Del("X-Content-Type-Options")

	fmt.Fprintf(w, "event: connected\ndata: SSE connection established\n\n")
	flusher.Flush()

	client := &Client{
		Msg: make(chan string, 8),
		Key: key,
	}
	s.Add(client)
	sseLogger.Debug().Str("post", key.String()).Msg("SSE client connected")

	defer func() {
		s.Delete(client)
		sseLogger.Debug().Str("post", key.String()).Msg("SSE client disconnected")
	}()

	done := r.Context().Done()
	for {
		select {
		case msg := <-client.Msg:
			fmt.Fprint(w, msg)
			flusher.Flush()
		case <-done:
			return
		}
	}
}
