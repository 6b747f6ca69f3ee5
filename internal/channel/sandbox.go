// Package channel provides a WebSocket chat sandbox for exercising the bot
// without a WhatsApp number. Each connection acts as one sender; replies to
// connected senders are routed back over the socket instead of the Cloud API.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/drugsng/whatsapp-bot/internal/bot"
	"github.com/drugsng/whatsapp-bot/internal/notify"
)

const messageTimeout = 60 * time.Second

// sandboxMessage is the frame format in both directions.
type sandboxMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	From string `json:"from,omitempty"`
}

// Sandbox upgrades connections and feeds their messages to the dispatcher.
// It also implements notify delivery for senders that are attached.
type Sandbox struct {
	dispatcher *bot.Dispatcher
	isDev      bool

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	counter atomic.Int64
}

// NewSandbox creates the sandbox handler.
func NewSandbox(isDev bool) *Sandbox {
	return &Sandbox{
		isDev: isDev,
		conns: map[string]*websocket.Conn{},
	}
}

// SetDispatcher wires the dispatcher in. Set once at startup, before the
// handler is mounted.
func (s *Sandbox) SetDispatcher(d *bot.Dispatcher) {
	s.dispatcher = d
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (s *Sandbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.isDev {
		http.Error(w, "sandbox disabled", http.StatusForbidden)
		return
	}

	sender := r.URL.Query().Get("sender")
	if sender == "" {
		sender = fmt.Sprintf("sandbox-%d", s.counter.Add(1))
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "sender", sender)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "sender", sender)
		}
	}()

	s.register(sender, ws)
	defer s.unregister(sender)

	slog.Info("Sandbox session started", "sender", sender)
	s.writeFrame(ws, sandboxMessage{Type: "connected", From: sender})

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Sandbox closed by client", "sender", sender)
			} else {
				slog.Warn("Sandbox read error", "error", err, "sender", sender)
			}
			return
		}

		var msg sandboxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Bare text is treated as a message.
			msg = sandboxMessage{Type: "message", Text: string(data)}
		}

		switch msg.Type {
		case "message":
			msgCtx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			s.dispatcher.HandleCustomerMessage(msgCtx, bot.Inbound{SenderID: sender, Text: msg.Text})
			cancel()
		case "ping":
			s.writeFrame(ws, sandboxMessage{Type: "pong"})
		}
	}
}

// Send delivers a bot reply to a connected sandbox sender. Returns an error
// when the sender has no open socket so a router can fall back.
func (s *Sandbox) Send(recipientID, text string) error {
	s.mu.Lock()
	ws := s.conns[recipientID]
	s.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("sandbox: sender %s not connected", recipientID)
	}
	s.writeFrame(ws, sandboxMessage{Type: "message", Text: text})
	return nil
}

// Connected reports whether a sender currently has an open socket.
func (s *Sandbox) Connected(senderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[senderID] != nil
}

func (s *Sandbox) register(sender string, ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sender] = ws
}

func (s *Sandbox) unregister(sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, sender)
}

func (s *Sandbox) writeFrame(ws *websocket.Conn, msg sandboxMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("Sandbox write error", "error", err)
	}
}

// Router sends replies through the sandbox when the recipient is attached
// and through the upstream channel otherwise.
type Router struct {
	sandbox  *Sandbox
	upstream notify.Notifier
}

// NewRouter builds the reply router.
func NewRouter(sandbox *Sandbox, upstream notify.Notifier) *Router {
	return &Router{sandbox: sandbox, upstream: upstream}
}

// Send implements notify.Notifier.
func (r *Router) Send(recipientID, text string) error {
	if r.sandbox != nil && r.sandbox.Connected(recipientID) {
		return r.sandbox.Send(recipientID, text)
	}
	return r.upstream.Send(recipientID, text)
}
