package support

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/shared"
	"github.com/drugsng/whatsapp-bot/internal/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: map[string][]string{}}
}

func (n *recordingNotifier) Send(recipientID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[recipientID] = append(n.sent[recipientID], text)
	return nil
}

func (n *recordingNotifier) last(recipient string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	msgs := n.sent[recipient]
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func setupRelay(t *testing.T) (*Relay, store.Repository, *recordingNotifier) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	notifier := newRecordingNotifier()
	return NewRelay(repo, notifier, &shared.KeyedMutex{}), repo, notifier
}

func addAgent(t *testing.T, repo store.Repository, name, phone string, role domain.AgentRole) *domain.SupportAgent {
	t.Helper()
	agent := &domain.SupportAgent{Name: name, PhoneNumber: phone, Role: role, Active: true}
	if err := repo.UpsertAgent(context.Background(), agent); err != nil {
		t.Fatalf("upsert agent: %v", err)
	}
	stored, err := repo.GetAgentByPhone(context.Background(), phone)
	if err != nil || stored == nil {
		t.Fatalf("load agent back: %v", err)
	}
	return stored
}

func customerSession(senderID string) *domain.Session {
	return &domain.Session{SenderID: senderID, State: domain.StateNew}
}

func TestStartChatAssignsAgent(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000001", domain.RoleGeneral)

	session := customerSession("2348200000001")
	got, err := relay.StartChat(context.Background(), session, domain.RoleGeneral)
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if got.ID != agent.ID {
		t.Errorf("assigned agent = %d, want %d", got.ID, agent.ID)
	}
	if session.State != domain.StateSupportChat {
		t.Errorf("state = %v, want SUPPORT_CHAT", session.State)
	}
	if session.Data.AssignedAgentID != agent.ID {
		t.Errorf("assigned agent id = %d", session.Data.AssignedAgentID)
	}

	if msg := notifier.last(agent.PhoneNumber); !strings.Contains(msg, session.SenderID) {
		t.Errorf("agent notice = %q, want customer id", msg)
	}
	if msg := notifier.last(session.SenderID); !strings.Contains(msg, "Ada") {
		t.Errorf("customer notice = %q, want agent name", msg)
	}
}

func TestStartChatRoleFallback(t *testing.T) {
	relay, repo, _ := setupRelay(t)
	general := addAgent(t, repo, "Grace", "2348100000002", domain.RoleGeneral)

	session := customerSession("2348200000002")
	got, err := relay.StartChat(context.Background(), session, domain.RoleMedical)
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if got.ID != general.ID {
		t.Errorf("expected fallback to general agent, got %d", got.ID)
	}
}

func TestStartChatAnyActiveFallback(t *testing.T) {
	relay, repo, _ := setupRelay(t)
	orders := addAgent(t, repo, "Olu", "2348100000003", domain.RoleOrders)

	session := customerSession("2348200000003")
	got, err := relay.StartChat(context.Background(), session, domain.RoleMedical)
	if err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if got.ID != orders.ID {
		t.Errorf("expected any active agent, got %d", got.ID)
	}
}

func TestStartChatEmptyRoster(t *testing.T) {
	relay, _, _ := setupRelay(t)
	session := customerSession("2348200000004")
	_, err := relay.StartChat(context.Background(), session, domain.RoleGeneral)
	if !errors.Is(err, domain.ErrNoAgentAvailable) {
		t.Errorf("err = %v, want ErrNoAgentAvailable", err)
	}
	if session.State == domain.StateSupportChat {
		t.Errorf("session must not enter SUPPORT_CHAT")
	}
}

func TestRelayFromCustomer(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000005", domain.RoleGeneral)

	session := customerSession("2348200000005")
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	if err := relay.RelayFromCustomer(context.Background(), session, "my delivery is late"); err != nil {
		t.Fatalf("RelayFromCustomer: %v", err)
	}

	forwarded := notifier.last(agent.PhoneNumber)
	if !strings.Contains(forwarded, "my delivery is late") || !strings.Contains(forwarded, session.SenderID) {
		t.Errorf("forwarded = %q", forwarded)
	}

	unread, err := repo.UnreadCustomerMessages(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("UnreadCustomerMessages: %v", err)
	}
	if len(unread) != 1 || unread[0].Text != "my delivery is late" {
		t.Errorf("unread = %+v", unread)
	}
}

func TestRelayFromCustomerWithoutChat(t *testing.T) {
	relay, _, _ := setupRelay(t)
	session := customerSession("2348200000006")
	err := relay.RelayFromCustomer(context.Background(), session, "hello?")
	if !errors.Is(err, domain.ErrNoActiveChat) {
		t.Errorf("err = %v, want ErrNoActiveChat", err)
	}
}

func TestAgentReplyGoesToLatestUnreadThread(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000007", domain.RoleGeneral)

	first := customerSession("2348200000007")
	second := customerSession("2348200000008")
	for _, s := range []*domain.Session{first, second} {
		if _, err := relay.StartChat(context.Background(), s, domain.RoleGeneral); err != nil {
			t.Fatalf("StartChat: %v", err)
		}
	}
	if err := relay.RelayFromCustomer(context.Background(), first, "first question"); err != nil {
		t.Fatalf("relay first: %v", err)
	}
	if err := relay.RelayFromCustomer(context.Background(), second, "second question"); err != nil {
		t.Fatalf("relay second: %v", err)
	}

	if err := relay.HandleAgentMessage(context.Background(), agent, "on it"); err != nil {
		t.Fatalf("HandleAgentMessage: %v", err)
	}

	if msg := notifier.last(second.SenderID); !strings.Contains(msg, "on it") {
		t.Errorf("latest thread must receive the reply, got %q", msg)
	}
	if msgs := notifier.sent[first.SenderID]; len(msgs) > 0 {
		for _, m := range msgs {
			if strings.Contains(m, "on it") {
				t.Errorf("older thread must not receive the reply")
			}
		}
	}
}

func TestAgentReplyWithoutThread(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000009", domain.RoleGeneral)

	err := relay.HandleAgentMessage(context.Background(), agent, "anyone there?")
	if !errors.Is(err, domain.ErrNoActiveChat) {
		t.Errorf("err = %v, want ErrNoActiveChat", err)
	}
	if msg := notifier.last(agent.PhoneNumber); !strings.Contains(msg, "No active chat") {
		t.Errorf("agent notice = %q", msg)
	}
}

func TestChatsCommandListsAndMarksRead(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000010", domain.RoleGeneral)

	session := customerSession("2348200000010")
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if err := relay.RelayFromCustomer(context.Background(), session, "need a refund"); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if err := relay.HandleAgentMessage(context.Background(), agent, "/chats"); err != nil {
		t.Fatalf("/chats: %v", err)
	}
	listing := notifier.last(agent.PhoneNumber)
	if !strings.Contains(listing, "need a refund") {
		t.Errorf("listing = %q", listing)
	}

	unread, err := repo.UnreadCustomerMessages(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("UnreadCustomerMessages: %v", err)
	}
	if len(unread) != 0 {
		t.Errorf("messages must be marked read after /chats, still unread: %d", len(unread))
	}
}

func TestEndCommandClosesMostRecentThread(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000011", domain.RoleGeneral)

	first := customerSession("2348200000011")
	second := customerSession("2348200000012")
	for _, s := range []*domain.Session{first, second} {
		if _, err := relay.StartChat(context.Background(), s, domain.RoleGeneral); err != nil {
			t.Fatalf("StartChat: %v", err)
		}
	}
	if err := relay.RelayFromCustomer(context.Background(), first, "first"); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if err := relay.RelayFromCustomer(context.Background(), second, "second"); err != nil {
		t.Fatalf("relay: %v", err)
	}

	if err := relay.HandleAgentMessage(context.Background(), agent, "/end"); err != nil {
		t.Fatalf("/end: %v", err)
	}

	closed, err := repo.GetSession(context.Background(), second.SenderID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if closed.State != domain.StateNew {
		t.Errorf("most recent thread state = %v, want NEW", closed.State)
	}

	open, err := repo.GetSession(context.Background(), first.SenderID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if open.State != domain.StateSupportChat {
		t.Errorf("older thread must stay open, state = %v", open.State)
	}

	if msg := notifier.last(second.SenderID); !strings.Contains(msg, "has ended") {
		t.Errorf("customer close notice = %q", msg)
	}
}

func TestEndChatRestoresLoggedIn(t *testing.T) {
	relay, repo, _ := setupRelay(t)
	addAgent(t, repo, "Ada", "2348100000013", domain.RoleGeneral)

	session := customerSession("2348200000013")
	session.Data.UserID = 42
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}

	if err := relay.EndChat(context.Background(), session.SenderID); err != nil {
		t.Fatalf("EndChat: %v", err)
	}

	got, err := repo.GetSession(context.Background(), session.SenderID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != domain.StateLoggedIn {
		t.Errorf("state = %v, want LOGGED_IN for an authenticated customer", got.State)
	}
	if got.Data.AssignedAgentID != 0 {
		t.Errorf("assigned agent must be cleared")
	}
}

func TestEndChatIdempotent(t *testing.T) {
	relay, repo, _ := setupRelay(t)
	addAgent(t, repo, "Ada", "2348100000014", domain.RoleGeneral)

	session := customerSession("2348200000014")
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if err := relay.EndChat(context.Background(), session.SenderID); err != nil {
		t.Fatalf("first EndChat: %v", err)
	}

	err := relay.EndChat(context.Background(), session.SenderID)
	if !errors.Is(err, domain.ErrNoActiveChat) {
		t.Errorf("second EndChat = %v, want ErrNoActiveChat", err)
	}
}

func TestEndCommandNotifiesWhenSessionAlreadyReverted(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000016", domain.RoleGeneral)

	session := customerSession("2348200000016")
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if err := relay.RelayFromCustomer(context.Background(), session, "question"); err != nil {
		t.Fatalf("relay: %v", err)
	}

	// Customer ends the chat first; the thread rows remain.
	if err := relay.EndChat(context.Background(), session.SenderID); err != nil {
		t.Fatalf("EndChat: %v", err)
	}

	err := relay.HandleAgentMessage(context.Background(), agent, "/end")
	if !errors.Is(err, domain.ErrNoActiveChat) {
		t.Errorf("err = %v, want ErrNoActiveChat", err)
	}
	if msg := notifier.last(agent.PhoneNumber); !strings.Contains(msg, "No active chat") {
		t.Errorf("agent notice = %q, want a no-active-chat reply", msg)
	}
}

func TestEndCommandWaitsForCustomerTurn(t *testing.T) {
	relay, repo, _ := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000017", domain.RoleGeneral)

	session := customerSession("2348200000017")
	if _, err := relay.StartChat(context.Background(), session, domain.RoleGeneral); err != nil {
		t.Fatalf("StartChat: %v", err)
	}
	if err := relay.RelayFromCustomer(context.Background(), session, "question"); err != nil {
		t.Fatalf("relay: %v", err)
	}

	// Simulate an in-flight customer turn holding the sender's lock.
	unlock := relay.locks.Lock(session.SenderID)
	done := make(chan error, 1)
	go func() {
		done <- relay.HandleAgentMessage(context.Background(), agent, "/end")
	}()

	select {
	case <-done:
		t.Fatal("/end must wait for the customer's turn to finish")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("/end: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("/end never completed after the lock was released")
	}

	got, err := repo.GetSession(context.Background(), session.SenderID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != domain.StateNew {
		t.Errorf("state = %v, want NEW after /end", got.State)
	}
}

func TestUnknownAgentCommand(t *testing.T) {
	relay, repo, notifier := setupRelay(t)
	agent := addAgent(t, repo, "Ada", "2348100000015", domain.RoleGeneral)

	if err := relay.HandleAgentMessage(context.Background(), agent, "/frobnicate"); err != nil {
		t.Fatalf("unknown command must not error: %v", err)
	}
	if msg := notifier.last(agent.PhoneNumber); !strings.Contains(msg, "/chats") {
		t.Errorf("usage hint = %q", msg)
	}
}
