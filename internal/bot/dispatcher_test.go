package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/config"
	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/drugsng"
	"github.com/drugsng/whatsapp-bot/internal/nlp"
	"github.com/drugsng/whatsapp-bot/internal/otp"
	"github.com/drugsng/whatsapp-bot/internal/payment"
	"github.com/drugsng/whatsapp-bot/internal/prescription"
	"github.com/drugsng/whatsapp-bot/internal/shared"
	"github.com/drugsng/whatsapp-bot/internal/support"
)

// fakeRepo is an in-memory store.Repository for dispatcher tests.
type fakeRepo struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	agents    []*domain.SupportAgent
	messages  []*domain.ChatMessage
	otps      []*domain.OTP
	orders    map[int64]*domain.Order
	scripts   []*domain.Prescription
	nextOTPID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: map[string]*domain.Session{},
		orders:   map[int64]*domain.Order{},
	}
}

func (f *fakeRepo) GetSession(_ context.Context, senderID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[senderID]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeRepo) SaveSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *session
	f.sessions[session.SenderID] = &copied
	return nil
}

func (f *fakeRepo) ResetIdleSessions(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) GetAgentByPhone(_ context.Context, phone string) (*domain.SupportAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.PhoneNumber == phone {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetAgentByID(_ context.Context, id int64) (*domain.SupportAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetActiveAgentByRole(_ context.Context, role domain.AgentRole) (*domain.SupportAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.Role == role && a.Active {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListActiveAgents(_ context.Context) ([]*domain.SupportAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SupportAgent
	for _, a := range f.agents {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertAgent(_ context.Context, agent *domain.SupportAgent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = append(f.agents, agent)
	return nil
}

func (f *fakeRepo) InsertChatMessage(_ context.Context, msg *domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = int64(len(f.messages) + 1)
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeRepo) UnreadCustomerMessages(_ context.Context, agentID int64) ([]*domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ChatMessage
	for _, m := range f.messages {
		if m.AgentID == agentID && m.FromCustomer && !m.Read {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkCustomerMessagesRead(_ context.Context, agentID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, m := range f.messages {
		if m.AgentID == agentID && m.FromCustomer && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) LatestCustomerThread(_ context.Context, agentID int64, unreadOnly bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		m := f.messages[i]
		if m.AgentID != agentID || !m.FromCustomer {
			continue
		}
		if unreadOnly && m.Read {
			continue
		}
		return m.CustomerID, nil
	}
	return "", nil
}

func (f *fakeRepo) InsertOTP(_ context.Context, o *domain.OTP) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextOTPID++
	o.ID = f.nextOTPID
	f.otps = append(f.otps, o)
	return nil
}

func (f *fakeRepo) LatestOTP(_ context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.otps) - 1; i >= 0; i-- {
		o := f.otps[i]
		if o.Email == email && o.Purpose == purpose && !o.Used {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) MarkOTPUsed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.otps {
		if o.ID == id {
			o.Used = true
		}
	}
	return nil
}

func (f *fakeRepo) InsertOrder(_ context.Context, order *domain.Order, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return nil
}

func (f *fakeRepo) GetOrder(_ context.Context, orderID int64) (*domain.Order, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, "", nil
	}
	return o, "2348001112222", nil
}

func (f *fakeRepo) MarkOrderPaid(_ context.Context, orderID int64, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus == domain.PaymentPaid {
		return false, nil
	}
	o.PaymentStatus = domain.PaymentPaid
	o.PaymentReference = reference
	return true, nil
}

func (f *fakeRepo) InsertPrescription(_ context.Context, p *domain.Prescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, p)
	return nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

// fakeNotifier records every sent message.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	To   string
	Text string
}

func (n *fakeNotifier) Send(recipientID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: recipientID, Text: text})
	return nil
}

func (n *fakeNotifier) lastTo(recipient string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].To == recipient {
			return n.sent[i].Text
		}
	}
	return ""
}

// fakeBackend is a canned drugsng.Client.
type fakeBackend struct {
	mu              sync.Mutex
	registerCalls   int
	loginCalls      int
	trackCalls      int
	products        []domain.Product
	doctors         []domain.Doctor
	order           *domain.Order
	registerReplies drugsng.AuthResult
	loginReplies    drugsng.AuthResult
	loginErr        error
}

func (b *fakeBackend) RegisterUser(_ context.Context, _ drugsng.UserData) (*drugsng.AuthResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerCalls++
	r := b.registerReplies
	return &r, nil
}

func (b *fakeBackend) LoginUser(_ context.Context, _ drugsng.Credentials) (*drugsng.AuthResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginCalls++
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	r := b.loginReplies
	return &r, nil
}

func (b *fakeBackend) SearchProducts(_ context.Context, _ string) ([]domain.Product, error) {
	return b.products, nil
}

func (b *fakeBackend) AddToCart(_ context.Context, _, _ int64, _ int) error { return nil }

func (b *fakeBackend) PlaceOrder(_ context.Context, _ int64, _ drugsng.OrderData) (*drugsng.OrderResult, error) {
	return &drugsng.OrderResult{OrderID: 777, TotalAmount: 4500}, nil
}

func (b *fakeBackend) TrackOrder(_ context.Context, _ int64) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackCalls++
	if b.order == nil {
		return nil, domain.ErrNotFound
	}
	return b.order, nil
}

func (b *fakeBackend) SearchDoctors(_ context.Context, _, _ string) ([]domain.Doctor, error) {
	return b.doctors, nil
}

func (b *fakeBackend) BookAppointment(_ context.Context, _, _ int64, _ time.Time) (*drugsng.AppointmentResult, error) {
	return &drugsng.AppointmentResult{AppointmentID: 55}, nil
}

func (b *fakeBackend) SearchDiagnosticTests(_ context.Context, _ string) ([]drugsng.DiagnosticTest, error) {
	return nil, nil
}

func (b *fakeBackend) SearchHealthcareProducts(_ context.Context, _ string) ([]domain.Product, error) {
	return nil, nil
}

func (b *fakeBackend) RequestPasswordReset(_ context.Context, _, _, _ string) error { return nil }

// fakeMailer captures emailed codes.
type fakeMailer struct {
	mu       sync.Mutex
	lastCode string
}

func (m *fakeMailer) SendOTP(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	return nil
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, _, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCode = code
	return nil
}

func (m *fakeMailer) code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode
}

// fakePayments returns a canned checkout link.
type fakePayments struct{}

func (fakePayments) CheckoutLink(_ context.Context, _ string, d payment.Details) (string, error) {
	return "https://checkout.example/pay", nil
}

// countingResolver wraps the matcher and counts invocations.
type countingResolver struct {
	inner nlp.Resolver
	mu    sync.Mutex
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, text string) domain.IntentResult {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Resolve(ctx, text)
}

func (c *countingResolver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeClock shifts the OTP service's view of time.
type fakeClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

type testHarness struct {
	repo     *fakeRepo
	notifier *fakeNotifier
	backend  *fakeBackend
	mail     *fakeMailer
	resolver *countingResolver
	relay    *support.Relay
	clock    *fakeClock
	d        *Dispatcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	backend := &fakeBackend{
		registerReplies: drugsng.AuthResult{UserID: 101, Token: "tok-r", Name: "John", Email: "john@example.com"},
		loginReplies:    drugsng.AuthResult{UserID: 202, Token: "tok-l", Name: "Jane", Email: "jane@example.com"},
	}
	mail := &fakeMailer{}
	resolver := &countingResolver{inner: nlp.NewResolver(nil, time.Second)}
	clock := &fakeClock{}
	locks := &shared.KeyedMutex{}
	relay := support.NewRelay(repo, notifier, locks)

	d := NewDispatcher(Deps{
		Repo:          repo,
		Resolver:      resolver,
		Relay:         relay,
		Backend:       backend,
		OTPs:          otp.NewServiceWithClock(repo, clock.now),
		Mail:          mail,
		Payments:      fakePayments{},
		Prescriptions: prescription.NewService(repo),
		Notifier:      notifier,
		Locks:         locks,
	}, config.RateLimitConfig{PerMinute: 600, Burst: 100})

	return &testHarness{
		repo: repo, notifier: notifier, backend: backend,
		mail: mail, resolver: resolver, relay: relay, clock: clock, d: d,
	}
}

func (h *testHarness) send(t *testing.T, sender, text string) string {
	t.Helper()
	h.d.HandleCustomerMessage(context.Background(), Inbound{SenderID: sender, Text: text})
	return h.notifier.lastTo(sender)
}

func (h *testHarness) session(t *testing.T, sender string) *domain.Session {
	t.Helper()
	s, err := h.repo.GetSession(context.Background(), sender)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s == nil {
		t.Fatalf("no session for %s", sender)
	}
	return s
}

func TestGreetingCreatesSession(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348011111111", "hello")
	if !strings.Contains(reply, "Welcome to Drugs.ng") {
		t.Errorf("reply = %q, want new-user greeting", reply)
	}
	if got := h.session(t, "2348011111111").State; got != domain.StateNew {
		t.Errorf("state = %v, want NEW", got)
	}
}

func TestAuthGateBlocksTracking(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348022222222", "track my order 12345")
	if !strings.Contains(reply, "Authentication Required") {
		t.Errorf("reply = %q, want auth-required message", reply)
	}
	if h.backend.trackCalls != 0 {
		t.Errorf("backend must not be called behind the gate")
	}
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348033333333", "login jane@example.com secret")
	if !strings.Contains(reply, "Welcome back, Jane") {
		t.Errorf("reply = %q, want login confirmation", reply)
	}
	if !strings.Contains(strings.ToLower(reply), "help") {
		t.Errorf("login reply must mention help, got %q", reply)
	}

	s := h.session(t, "2348033333333")
	if s.State != domain.StateLoggedIn {
		t.Errorf("state = %v, want LOGGED_IN", s.State)
	}
	if s.Data.UserID != 202 || s.Data.Token != "tok-l" {
		t.Errorf("auth data not stored: %+v", s.Data)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.backend.loginErr = domain.ErrAuthRequired
	reply := h.send(t, "2348033333334", "login jane@example.com wrong")
	if !strings.Contains(reply, "Invalid email or password") {
		t.Errorf("reply = %q", reply)
	}
	if got := h.session(t, "2348033333334").State; got == domain.StateLoggedIn {
		t.Errorf("failed login must not log in")
	}
}

func TestRegistrationOTPRoundTrip(t *testing.T) {
	h := newHarness(t)
	sender := "2348044444444"

	reply := h.send(t, sender, "register John Doe john@example.com mypassword")
	if !strings.Contains(reply, "verification code") {
		t.Fatalf("reply = %q, want code prompt", reply)
	}
	s := h.session(t, sender)
	if s.State != domain.StateRegistering || !s.Data.OTPPending {
		t.Fatalf("expected pending registration, got %+v", s)
	}
	code := h.mail.code()
	if len(code) != 4 {
		t.Fatalf("emailed code = %q, want 4 digits", code)
	}

	// Wrong code first: not consumed, retry allowed.
	wrong := "0000"
	if wrong == code {
		wrong = "1111"
	}
	reply = h.send(t, sender, wrong)
	if !strings.Contains(reply, "doesn't match") {
		t.Errorf("reply = %q, want mismatch message", reply)
	}
	if h.backend.registerCalls != 0 {
		t.Errorf("mismatched code must not create the account")
	}

	reply = h.send(t, sender, code)
	if !strings.Contains(reply, "Welcome to Drugs.ng, John") {
		t.Errorf("reply = %q, want registration success", reply)
	}
	if h.backend.registerCalls != 1 {
		t.Errorf("register calls = %d, want 1", h.backend.registerCalls)
	}

	s = h.session(t, sender)
	if s.State != domain.StateLoggedIn {
		t.Errorf("state = %v, want LOGGED_IN", s.State)
	}
	if s.Data.OTPPending || s.Data.RegistrationDraft != nil {
		t.Errorf("registration scratch state must be cleared: %+v", s.Data)
	}
	if s.Data.UserID != 101 {
		t.Errorf("user id = %d, want 101", s.Data.UserID)
	}
}

func TestRegistrationExpiredCodeClearsDraft(t *testing.T) {
	h := newHarness(t)
	sender := "2348044444445"

	h.send(t, sender, "register John Doe john@example.com mypassword")
	code := h.mail.code()
	if len(code) != 4 {
		t.Fatalf("emailed code = %q, want 4 digits", code)
	}

	h.clock.advance(11 * time.Minute)

	reply := h.send(t, sender, code)
	if !strings.Contains(reply, "expired") {
		t.Errorf("reply = %q, want expiry message", reply)
	}
	if h.backend.registerCalls != 0 {
		t.Errorf("expired code must not create the account")
	}

	s := h.session(t, sender)
	if s.Data.OTPPending {
		t.Errorf("OTP-pending flag must be cleared")
	}
	if s.Data.RegistrationDraft != nil {
		t.Errorf("registration draft must be cleared, got %+v", s.Data.RegistrationDraft)
	}
}

func TestLogoutClearsAuth(t *testing.T) {
	h := newHarness(t)
	sender := "2348055555555"
	h.send(t, sender, "login jane@example.com secret")

	reply := h.send(t, sender, "logout")
	if !strings.Contains(reply, "logged out") {
		t.Errorf("reply = %q", reply)
	}
	s := h.session(t, sender)
	if s.State != domain.StateNew || s.Data.Token != "" {
		t.Errorf("logout must reset session, got %+v", s)
	}
}

func TestSearchProductsCachesTopFive(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 7; i++ {
		h.backend.products = append(h.backend.products, domain.Product{
			ID: int64(i), Name: "Product", Category: "Pain Relief", Price: 100,
		})
	}

	sender := "2348066666666"
	reply := h.send(t, sender, "find paracetamol medicine")
	if !strings.Contains(reply, "1.") || !strings.Contains(reply, "5.") {
		t.Errorf("reply must list five products, got %q", reply)
	}
	if strings.Contains(reply, "6.") {
		t.Errorf("reply must not list a sixth product")
	}
	if got := len(h.session(t, sender).Data.SearchResults); got != 5 {
		t.Errorf("cached results = %d, want 5", got)
	}
}

func TestSupportChatPassthrough(t *testing.T) {
	h := newHarness(t)
	agent := &domain.SupportAgent{ID: 1, Name: "Ada", PhoneNumber: "2348099999999", Role: domain.RoleGeneral, Active: true}
	h.repo.agents = append(h.repo.agents, agent)
	sender := "2348077777777"

	reply := h.send(t, sender, "speak to an agent")
	if !strings.Contains(reply, "Ada") {
		t.Fatalf("reply = %q, want connection notice", reply)
	}
	if got := h.session(t, sender).State; got != domain.StateSupportChat {
		t.Fatalf("state = %v, want SUPPORT_CHAT", got)
	}

	before := h.resolver.count()
	h.send(t, sender, "my order never arrived")
	if h.resolver.count() != before {
		t.Errorf("resolver must not run during support chat")
	}

	forwarded := h.notifier.lastTo(agent.PhoneNumber)
	if !strings.Contains(forwarded, "my order never arrived") {
		t.Errorf("agent forward = %q", forwarded)
	}
	if !strings.Contains(forwarded, sender) {
		t.Errorf("forward must name the customer, got %q", forwarded)
	}
}

func TestSupportChatAttachmentRelayed(t *testing.T) {
	h := newHarness(t)
	agent := &domain.SupportAgent{ID: 1, Name: "Ada", PhoneNumber: "2348099999999", Role: domain.RoleGeneral, Active: true}
	h.repo.agents = append(h.repo.agents, agent)
	sender := "2348077777779"

	h.send(t, sender, "speak to an agent")
	h.d.HandleCustomerMessage(context.Background(), Inbound{SenderID: sender, Text: "my prescription", MediaRef: "media-123"})

	forwarded := h.notifier.lastTo(agent.PhoneNumber)
	if !strings.Contains(forwarded, "sent an attachment") {
		t.Errorf("agent forward = %q, want attachment note", forwarded)
	}
	if !strings.Contains(forwarded, "my prescription") {
		t.Errorf("agent forward must keep the caption, got %q", forwarded)
	}
	if got := h.session(t, sender).Data.PendingAttachmentRef; got != "media-123" {
		t.Errorf("pending ref = %q, want media-123", got)
	}
	if got := h.session(t, sender).State; got != domain.StateSupportChat {
		t.Errorf("attachment must not leave the chat, state = %v", got)
	}
}

func TestSupportChatEnd(t *testing.T) {
	h := newHarness(t)
	agent := &domain.SupportAgent{ID: 1, Name: "Ada", PhoneNumber: "2348099999999", Role: domain.RoleGeneral, Active: true}
	h.repo.agents = append(h.repo.agents, agent)
	sender := "2348077777778"

	h.send(t, sender, "speak to an agent")
	h.send(t, sender, "end chat")

	if got := h.session(t, sender).State; got != domain.StateNew {
		t.Errorf("state after end = %v, want NEW", got)
	}
}

func TestSupportUnavailable(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348088888888", "speak to an agent")
	if !strings.Contains(reply, "busy") {
		t.Errorf("reply = %q, want no-agent message", reply)
	}
	if got := h.session(t, "2348088888888").State; got == domain.StateSupportChat {
		t.Errorf("must not enter SUPPORT_CHAT without an agent")
	}
}

func TestQuickAttachWithoutPendingUpload(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348012121212", "rx 777")
	if !strings.Contains(reply, "no prescription upload pending") {
		t.Errorf("reply = %q", reply)
	}
}

func TestQuickAttachBindsUpload(t *testing.T) {
	h := newHarness(t)
	sender := "2348013131313"
	h.repo.orders[777] = &domain.Order{ID: 777, PaymentStatus: domain.PaymentPending}

	h.d.HandleCustomerMessage(context.Background(), Inbound{SenderID: sender, MediaRef: "media-abc"})
	reply := h.notifier.lastTo(sender)
	if !strings.Contains(reply, "rx <order id>") {
		t.Fatalf("upload ack = %q", reply)
	}
	if got := h.session(t, sender).Data.PendingAttachmentRef; got != "media-abc" {
		t.Fatalf("pending ref = %q", got)
	}

	reply = h.send(t, sender, "rx 777")
	if !strings.Contains(reply, "attached to order #777") {
		t.Errorf("reply = %q", reply)
	}
	if len(h.repo.scripts) != 1 || h.repo.scripts[0].FileRef != "media-abc" {
		t.Errorf("prescription not stored: %+v", h.repo.scripts)
	}
	if got := h.session(t, sender).Data.PendingAttachmentRef; got != "" {
		t.Errorf("pending ref must be cleared, got %q", got)
	}
}

func TestQuickAttachUnknownOrder(t *testing.T) {
	h := newHarness(t)
	sender := "2348014141414"
	h.d.HandleCustomerMessage(context.Background(), Inbound{SenderID: sender, MediaRef: "media-xyz"})

	reply := h.send(t, sender, "rx 999")
	if !strings.Contains(reply, "couldn't find that order") {
		t.Errorf("reply = %q", reply)
	}
	if got := h.session(t, sender).Data.PendingAttachmentRef; got != "media-xyz" {
		t.Errorf("failed attach must keep the pending ref, got %q", got)
	}
}

func TestUnknownMessageGetsHelpHint(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348015151515", "xyzzy qwerty")
	if !strings.Contains(strings.ToLower(reply), "help") {
		t.Errorf("reply = %q, want help hint", reply)
	}
}

func TestRepliesCarryOptionsFooter(t *testing.T) {
	h := newHarness(t)
	reply := h.send(t, "2348016161616", "hello")
	if !strings.Contains(reply, "register") {
		t.Errorf("logged-out footer must offer register, got %q", reply)
	}

	h.send(t, "2348016161616", "login jane@example.com secret")
	reply = h.send(t, "2348016161616", "hello")
	if !strings.Contains(reply, "logout") {
		t.Errorf("logged-in footer must offer logout, got %q", reply)
	}
}
