package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		sender_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		data_json TEXT NOT NULL DEFAULT '{}',
		last_activity INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions(last_activity);

	CREATE TABLE IF NOT EXISTS support_agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'general',
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL,
		agent_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		from_customer INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		read INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_agent ON chat_messages(agent_id, timestamp);

	CREATE TABLE IF NOT EXISTS otps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL,
		code TEXT NOT NULL,
		purpose TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_otps_email_purpose ON otps(email, purpose);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		customer_phone TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_reference TEXT,
		total_amount REAL NOT NULL,
		shipping_address TEXT,
		order_date INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prescriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL,
		file_ref TEXT NOT NULL,
		verification_status TEXT NOT NULL DEFAULT 'Pending',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prescriptions_order ON prescriptions(order_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session by sender ID.
func (s *SQLiteStore) GetSession(ctx context.Context, senderID string) (*domain.Session, error) {
	query := `
		SELECT sender_id, state, data_json, last_activity, created_at, updated_at
		FROM sessions WHERE sender_id = ?`

	row := s.db.QueryRowContext(ctx, query, senderID)

	var session domain.Session
	var state, dataJSON string
	var lastActivity, createdAt, updatedAt int64

	err := row.Scan(&session.SenderID, &state, &dataJSON, &lastActivity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.State = domain.SessionState(state)
	if err := json.Unmarshal([]byte(dataJSON), &session.Data); err != nil {
		return nil, fmt.Errorf("decode session data: %w", err)
	}
	session.LastActivity = time.Unix(lastActivity, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// SaveSession persists a session and refreshes its activity timestamps.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *domain.Session) error {
	dataJSON, err := json.Marshal(session.Data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}

	now := time.Now()
	session.LastActivity = now
	session.UpdatedAt = now
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	query := `
	INSERT INTO sessions (sender_id, state, data_json, last_activity, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(sender_id) DO UPDATE SET
		state = excluded.state,
		data_json = excluded.data_json,
		last_activity = excluded.last_activity,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		session.SenderID, string(session.State), string(dataJSON),
		session.LastActivity.Unix(), session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ResetIdleSessions reverts idle sessions to NEW with cleared scratch data.
// Support chats are exempt so an open thread is never cut by the sweep.
func (s *SQLiteStore) ResetIdleSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		UPDATE sessions SET state = ?, data_json = '{}', updated_at = ?
		WHERE last_activity < ? AND state != ?`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.StateNew), time.Now().Unix(), threshold, string(domain.StateSupportChat))
	if err != nil {
		return 0, fmt.Errorf("reset idle sessions: %w", err)
	}
	return result.RowsAffected()
}

const agentColumns = `id, name, phone_number, role, active, created_at, updated_at`

func scanAgent(row *sql.Row) (*domain.SupportAgent, error) {
	var agent domain.SupportAgent
	var role string
	var createdAt, updatedAt int64

	err := row.Scan(&agent.ID, &agent.Name, &agent.PhoneNumber, &role, &agent.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}

	agent.Role = domain.AgentRole(role)
	agent.CreatedAt = time.Unix(createdAt, 0)
	agent.UpdatedAt = time.Unix(updatedAt, 0)
	return &agent, nil
}

// GetAgentByPhone retrieves a support agent by phone number.
func (s *SQLiteStore) GetAgentByPhone(ctx context.Context, phoneNumber string) (*domain.SupportAgent, error) {
	query := `SELECT ` + agentColumns + ` FROM support_agents WHERE phone_number = ?`
	return scanAgent(s.db.QueryRowContext(ctx, query, phoneNumber))
}

// GetAgentByID retrieves a support agent by ID.
func (s *SQLiteStore) GetAgentByID(ctx context.Context, id int64) (*domain.SupportAgent, error) {
	query := `SELECT ` + agentColumns + ` FROM support_agents WHERE id = ?`
	return scanAgent(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveAgentByRole retrieves an active agent for the role.
func (s *SQLiteStore) GetActiveAgentByRole(ctx context.Context, role domain.AgentRole) (*domain.SupportAgent, error) {
	query := `SELECT ` + agentColumns + ` FROM support_agents WHERE role = ? AND active = 1 ORDER BY id LIMIT 1`
	return scanAgent(s.db.QueryRowContext(ctx, query, string(role)))
}

// ListActiveAgents retrieves every active agent on the roster.
func (s *SQLiteStore) ListActiveAgents(ctx context.Context) ([]*domain.SupportAgent, error) {
	query := `SELECT ` + agentColumns + ` FROM support_agents WHERE active = 1 ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active agents: %w", err)
	}
	defer closeRows(rows, "active agents")

	var agents []*domain.SupportAgent
	for rows.Next() {
		var agent domain.SupportAgent
		var role string
		var createdAt, updatedAt int64

		if err := rows.Scan(&agent.ID, &agent.Name, &agent.PhoneNumber, &role, &agent.Active, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agent.Role = domain.AgentRole(role)
		agent.CreatedAt = time.Unix(createdAt, 0)
		agent.UpdatedAt = time.Unix(updatedAt, 0)
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active agents: %w", err)
	}
	return agents, nil
}

// UpsertAgent creates or updates a roster entry keyed by phone number.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *domain.SupportAgent) error {
	now := time.Now().Unix()
	query := `
	INSERT INTO support_agents (name, phone_number, role, active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(phone_number) DO UPDATE SET
		name = excluded.name,
		role = excluded.role,
		active = excluded.active,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		agent.Name, agent.PhoneNumber, string(agent.Role), agent.Active, now, now)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// InsertChatMessage appends one relayed message to the transcript.
func (s *SQLiteStore) InsertChatMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	query := `
	INSERT INTO chat_messages (customer_id, agent_id, text, from_customer, timestamp, read)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		msg.CustomerID, msg.AgentID, msg.Text, msg.FromCustomer, msg.Timestamp.Unix(), msg.Read)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		msg.ID = id
	}
	return nil
}

// UnreadCustomerMessages lists unread customer-authored messages, oldest first.
func (s *SQLiteStore) UnreadCustomerMessages(ctx context.Context, agentID int64) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, customer_id, agent_id, text, from_customer, timestamp, read
		FROM chat_messages
		WHERE agent_id = ? AND from_customer = 1 AND read = 0
		ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("query unread messages: %w", err)
	}
	defer closeRows(rows, "unread messages")

	var msgs []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.CustomerID, &msg.AgentID, &msg.Text, &msg.FromCustomer, &ts, &msg.Read); err != nil {
			return nil, fmt.Errorf("scan chat message row: %w", err)
		}
		msg.Timestamp = time.Unix(ts, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread messages: %w", err)
	}
	return msgs, nil
}

// MarkCustomerMessagesRead flags all unread customer messages as read.
func (s *SQLiteStore) MarkCustomerMessagesRead(ctx context.Context, agentID int64) (int64, error) {
	query := `UPDATE chat_messages SET read = 1 WHERE agent_id = ? AND from_customer = 1 AND read = 0`
	result, err := s.db.ExecContext(ctx, query, agentID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return result.RowsAffected()
}

// LatestCustomerThread returns the customer behind the most recent
// customer-authored message for an agent.
func (s *SQLiteStore) LatestCustomerThread(ctx context.Context, agentID int64, unreadOnly bool) (string, error) {
	query := `
		SELECT customer_id FROM chat_messages
		WHERE agent_id = ? AND from_customer = 1`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT 1`

	var customerID string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query latest thread: %w", err)
	}
	return customerID, nil
}

// InsertOTP stores a new verification code.
func (s *SQLiteStore) InsertOTP(ctx context.Context, otp *domain.OTP) error {
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO otps (email, code, purpose, expires_at, used, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		otp.Email, otp.Code, string(otp.Purpose), otp.ExpiresAt.Unix(), otp.Used, otp.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		otp.ID = id
	}
	return nil
}

// LatestOTP retrieves the most recent unused code for an email and purpose.
func (s *SQLiteStore) LatestOTP(ctx context.Context, email string, purpose domain.OTPPurpose) (*domain.OTP, error) {
	query := `
		SELECT id, email, code, purpose, expires_at, used, created_at
		FROM otps
		WHERE email = ? AND purpose = ? AND used = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, email, string(purpose))

	var otp domain.OTP
	var p string
	var expiresAt, createdAt int64

	err := row.Scan(&otp.ID, &otp.Email, &otp.Code, &p, &expiresAt, &otp.Used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan otp row: %w", err)
	}

	otp.Purpose = domain.OTPPurpose(p)
	otp.ExpiresAt = time.Unix(expiresAt, 0)
	otp.CreatedAt = time.Unix(createdAt, 0)
	return &otp, nil
}

// MarkOTPUsed flags a code as consumed.
func (s *SQLiteStore) MarkOTPUsed(ctx context.Context, id int64) error {
	query := `UPDATE otps SET used = 1 WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	return nil
}

// InsertOrder records a placed order for payment tracking.
func (s *SQLiteStore) InsertOrder(ctx context.Context, order *domain.Order, customerPhone, customerEmail string) error {
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}
	query := `
	INSERT INTO orders (id, user_id, customer_phone, customer_email, status, payment_status,
		payment_reference, total_amount, shipping_address, order_date)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.UserID, customerPhone, customerEmail,
		order.Status, order.PaymentStatus, order.PaymentReference,
		order.TotalAmount, order.ShippingAddress, order.OrderDate.Unix())
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder retrieves a tracked order with the customer phone number.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID int64) (*domain.Order, string, error) {
	query := `
		SELECT id, user_id, customer_phone, status, payment_status,
		       COALESCE(payment_reference, ''), total_amount, COALESCE(shipping_address, ''), order_date
		FROM orders WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, orderID)

	var order domain.Order
	var phone string
	var orderDate int64

	err := row.Scan(&order.ID, &order.UserID, &phone, &order.Status, &order.PaymentStatus,
		&order.PaymentReference, &order.TotalAmount, &order.ShippingAddress, &orderDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("scan order row: %w", err)
	}

	order.OrderDate = time.Unix(orderDate, 0)
	return &order, phone, nil
}

// MarkOrderPaid transitions an order to paid/shipped. A second confirmation
// for the same order is a no-op.
func (s *SQLiteStore) MarkOrderPaid(ctx context.Context, orderID int64, reference string) (bool, error) {
	query := `
		UPDATE orders SET payment_status = ?, status = ?, payment_reference = ?
		WHERE id = ? AND payment_status != ?`

	result, err := s.db.ExecContext(ctx, query,
		domain.PaymentPaid, domain.OrderShipped, reference, orderID, domain.PaymentPaid)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// InsertPrescription binds an uploaded prescription document to an order.
func (s *SQLiteStore) InsertPrescription(ctx context.Context, p *domain.Prescription) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = "Pending"
	}
	query := `
	INSERT INTO prescriptions (order_id, file_ref, verification_status, created_at)
	VALUES (?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		p.OrderID, p.FileRef, p.VerificationStatus, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
