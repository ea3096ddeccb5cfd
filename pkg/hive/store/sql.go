package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
)

// sqlStore is a database/sql-backed Store. The same query set runs against
// either the sqlite3 driver (github.com/mattn/go-sqlite3, the default local
// backend) or the pgx stdlib driver (github.com/jackc/pgx/v5, selected when
// an external DSN is configured); the two differ only in placeholder style
// and a handful of DDL keywords, both handled by dialect.
type sqlStore struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
}

// Open opens a SQL-backed Store. An empty postgresDSN selects the local
// sqlite file at sqlitePath (created if missing, WAL mode enabled); a
// non-empty postgresDSN selects the pgx backend instead.
func Open(sqlitePath, postgresDSN string) (Store, error) {
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			return nil, apperr.Wrap(apperr.NotConfigured, "opening postgres store", err)
		}
		s := &sqlStore{db: db, dialect: "postgres"}
		if err := s.migrate(); err != nil {
			return nil, err
		}
		return s, nil
	}

	db, err := sql.Open("sqlite3", sqlitePath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, apperr.Wrap(apperr.NotConfigured, "opening sqlite store", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers; serialize here
	s := &sqlStore{db: db, dialect: "sqlite"}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

// ph returns the n-th placeholder for the active dialect (1-indexed).
func (s *sqlStore) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) autoinc() string {
	if s.dialect == "postgres" {
		return "TEXT PRIMARY KEY"
	}
	return "TEXT PRIMARY KEY"
}

func (s *sqlStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY, email TEXT, config_bag TEXT,
			created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS channel_identities (
			id TEXT PRIMARY KEY, owner_id TEXT, channel TEXT, channel_user_id TEXT)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY, user_id TEXT, title TEXT, summary TEXT,
			created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY, conversation_id TEXT, role TEXT, content TEXT,
			created_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id TEXT PRIMARY KEY, user_id TEXT, model TEXT, tokens_in INTEGER,
			tokens_out INTEGER, cost_cents REAL, created_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS skills (
			id TEXT PRIMARY KEY, owner_id TEXT, name TEXT, description TEXT,
			content TEXT, is_shared BOOLEAN, created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY, owner_id TEXT, name TEXT, source TEXT,
			is_shared BOOLEAN, created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY, user_id TEXT, text TEXT, is_complete BOOLEAN,
			created_at TIMESTAMP, completed_at TIMESTAMP, due_at TIMESTAMP, notified_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY, owner_id TEXT, name TEXT, steps_json TEXT,
			is_active BOOLEAN, created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT PRIMARY KEY, workflow_id TEXT, owner_id TEXT, status TEXT,
			steps_result_json TEXT, started_at TIMESTAMP, completed_at TIMESTAMP, error TEXT)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY, owner_id TEXT, workflow_id TEXT, cron_expression TEXT,
			timezone TEXT, is_active BOOLEAN, last_run_at TIMESTAMP, next_run_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS user_credentials (
			id TEXT PRIMARY KEY, owner_id TEXT, name TEXT, service TEXT,
			encrypted_value TEXT, created_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS file_metadata (
			user_id TEXT, filename TEXT, tracked BOOLEAN, last_uploaded_at TIMESTAMP,
			PRIMARY KEY (user_id, filename))`,
		`CREATE TABLE IF NOT EXISTS debug_logs (
			id TEXT PRIMARY KEY, user_id TEXT, conversation_id TEXT, payload TEXT,
			created_at TIMESTAMP)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return apperr.Wrap(apperr.NotConfigured, "running store migration", err)
		}
	}
	return nil
}

func newID() string { return uuid.NewString() }

// --- Users & channel identities ---

func (s *sqlStore) GetOrCreateUser(ctx context.Context, id string) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if kind, ok := apperr.KindOf(err); !ok || kind != apperr.NotFound {
		return nil, err
	}
	now := time.Now().UTC()
	q := fmt.Sprintf(`INSERT INTO users (id, email, config_bag, created_at, updated_at) VALUES (%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, q, id, "", "{}", now, now); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "creating user", err)
	}
	return &User{ID: id, ConfigBag: "{}", CreatedAt: now, UpdatedAt: now}, nil
}

func (s *sqlStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, email, config_bag, created_at, updated_at FROM users WHERE id=%s`, s.ph(1)), id)
	u := &User{}
	if err := row.Scan(&u.ID, &u.Email, &u.ConfigBag, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading user", err)
	}
	return u, nil
}

func (s *sqlStore) ResolveChannelIdentity(ctx context.Context, channel, channelUserID string) (*ChannelIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, owner_id, channel, channel_user_id FROM channel_identities WHERE channel=%s AND channel_user_id=%s`, s.ph(1), s.ph(2)),
		channel, channelUserID)
	ci := &ChannelIdentity{}
	if err := row.Scan(&ci.ID, &ci.OwnerID, &ci.Channel, &ci.ChannelUserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "channel identity not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading channel identity", err)
	}
	return ci, nil
}

func (s *sqlStore) CreateChannelIdentity(ctx context.Context, ownerID, channel, channelUserID string) (*ChannelIdentity, error) {
	ci := &ChannelIdentity{ID: newID(), OwnerID: ownerID, Channel: channel, ChannelUserID: channelUserID}
	q := fmt.Sprintf(`INSERT INTO channel_identities (id, owner_id, channel, channel_user_id) VALUES (%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := s.db.ExecContext(ctx, q, ci.ID, ci.OwnerID, ci.Channel, ci.ChannelUserID); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "creating channel identity", err)
	}
	return ci, nil
}

func (s *sqlStore) ListChannelIdentities(ctx context.Context, ownerID string) ([]*ChannelIdentity, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, owner_id, channel, channel_user_id FROM channel_identities WHERE owner_id=%s`, s.ph(1)), ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing channel identities", err)
	}
	defer rows.Close()
	var out []*ChannelIdentity
	for rows.Next() {
		ci := &ChannelIdentity{}
		if err := rows.Scan(&ci.ID, &ci.OwnerID, &ci.Channel, &ci.ChannelUserID); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning channel identity", err)
		}
		out = append(out, ci)
	}
	return out, nil
}

// --- Conversations & messages ---

func (s *sqlStore) GetMostRecentConversation(ctx context.Context, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, user_id, title, summary, created_at, updated_at FROM conversations WHERE user_id=%s ORDER BY updated_at DESC LIMIT 1`, s.ph(1)),
		userID)
	c := &Conversation{}
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "no conversation for user")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading conversation", err)
	}
	return c, nil
}

func (s *sqlStore) CreateConversation(ctx context.Context, userID string) (*Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{ID: newID(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	q := fmt.Sprintf(`INSERT INTO conversations (id, user_id, title, summary, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.UserID, "", "", c.CreatedAt, c.UpdatedAt); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "creating conversation", err)
	}
	return c, nil
}

func (s *sqlStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT id, user_id, title, summary, created_at, updated_at FROM conversations WHERE id=%s`, s.ph(1)), id)
	c := &Conversation{}
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "conversation not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading conversation", err)
	}
	return c, nil
}

func (s *sqlStore) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	q := fmt.Sprintf(`UPDATE conversations SET summary=%s, updated_at=%s WHERE id=%s`, s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.ExecContext(ctx, q, summary, time.Now().UTC(), id)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "updating conversation summary", err)
	}
	return nil
}

func (s *sqlStore) AppendMessage(ctx context.Context, conversationID string, role MessageRole, content string) (*Message, error) {
	now := time.Now().UTC()
	m := &Message{ID: newID(), ConversationID: conversationID, Role: role, Content: content, CreatedAt: now}
	q := fmt.Sprintf(`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, q, m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "appending message", err)
	}
	touch := fmt.Sprintf(`UPDATE conversations SET updated_at=%s WHERE id=%s`, s.ph(1), s.ph(2))
	if _, err := s.db.ExecContext(ctx, touch, now, conversationID); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "touching conversation", err)
	}
	return m, nil
}

// ListMessages returns up to the last `limit` messages in ascending
// (ingestion) order.
func (s *sqlStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	q := fmt.Sprintf(`SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id=%s ORDER BY created_at DESC LIMIT %s`,
		s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, conversationID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing messages", err)
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m := &Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning message", err)
		}
		m.Role = MessageRole(role)
		out = append(out, m)
	}
	// rows came back newest-first; reverse to ascending ingestion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM messages WHERE conversation_id=%s`, s.ph(1)), conversationID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.Transport, "counting messages", err)
	}
	return n, nil
}

// --- Usage ---

func (s *sqlStore) LogUsage(ctx context.Context, userID, model string, tokensIn, tokensOut int, costCents float64) error {
	q := fmt.Sprintf(`INSERT INTO usage_logs (id, user_id, model, tokens_in, tokens_out, cost_cents, created_at) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, newID(), userID, model, tokensIn, tokensOut, costCents, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.Transport, "logging usage", err)
	}
	return nil
}

// --- Skills ---

func (s *sqlStore) GetSkillByName(ctx context.Context, ownerID, name string) (*Skill, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, description, content, is_shared, created_at, updated_at FROM skills WHERE owner_id=%s AND name=%s`, s.ph(1), s.ph(2))
	return s.scanSkill(ctx, q, ownerID, name)
}

func (s *sqlStore) GetSharedSkillByName(ctx context.Context, name string) (*Skill, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, description, content, is_shared, created_at, updated_at FROM skills WHERE is_shared=%s AND name=%s`, s.boolLit(true), s.ph(1))
	return s.scanSkill(ctx, q, name)
}

func (s *sqlStore) boolLit(b bool) string {
	if s.dialect == "postgres" {
		if b {
			return "true"
		}
		return "false"
	}
	if b {
		return "1"
	}
	return "0"
}

func (s *sqlStore) scanSkill(ctx context.Context, q string, args ...any) (*Skill, error) {
	row := s.db.QueryRowContext(ctx, q, args...)
	sk := &Skill{}
	if err := row.Scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Content, &sk.IsShared, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "skill not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading skill", err)
	}
	return sk, nil
}

func (s *sqlStore) CreateSkill(ctx context.Context, sk *Skill) error {
	if sk.ID == "" {
		sk.ID = newID()
	}
	now := time.Now().UTC()
	sk.CreatedAt, sk.UpdatedAt = now, now
	q := fmt.Sprintf(`INSERT INTO skills (id, owner_id, name, description, content, is_shared, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
	_, err := s.db.ExecContext(ctx, q, sk.ID, sk.OwnerID, sk.Name, sk.Description, sk.Content, sk.IsShared, sk.CreatedAt, sk.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "creating skill", err)
	}
	return nil
}

func (s *sqlStore) ListSkills(ctx context.Context, ownerID string) ([]*Skill, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, description, content, is_shared, created_at, updated_at FROM skills WHERE owner_id=%s`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing skills", err)
	}
	defer rows.Close()
	var out []*Skill
	for rows.Next() {
		sk := &Skill{}
		if err := rows.Scan(&sk.ID, &sk.OwnerID, &sk.Name, &sk.Description, &sk.Content, &sk.IsShared, &sk.CreatedAt, &sk.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning skill", err)
		}
		out = append(out, sk)
	}
	return out, nil
}

// --- Scripts ---

func (s *sqlStore) GetScript(ctx context.Context, id string) (*Script, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, source, is_shared, created_at, updated_at FROM scripts WHERE id=%s`, s.ph(1))
	return s.scanScript(ctx, q, id)
}

func (s *sqlStore) FindScriptByName(ctx context.Context, ownerID, name string) (*Script, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, source, is_shared, created_at, updated_at FROM scripts WHERE owner_id=%s AND name=%s`, s.ph(1), s.ph(2))
	sc, err := s.scanScript(ctx, q, ownerID, name)
	if err == nil {
		return sc, nil
	}
	if kind, ok := apperr.KindOf(err); !ok || kind != apperr.NotFound {
		return nil, err
	}
	q = fmt.Sprintf(`SELECT id, owner_id, name, source, is_shared, created_at, updated_at FROM scripts WHERE is_shared=%s AND name=%s`, s.boolLit(true), s.ph(1))
	return s.scanScript(ctx, q, name)
}

func (s *sqlStore) scanScript(ctx context.Context, q string, args ...any) (*Script, error) {
	row := s.db.QueryRowContext(ctx, q, args...)
	sc := &Script{}
	if err := row.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Source, &sc.IsShared, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "script not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading script", err)
	}
	return sc, nil
}

func (s *sqlStore) CreateScript(ctx context.Context, sc *Script) error {
	if sc.ID == "" {
		sc.ID = newID()
	}
	now := time.Now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now
	q := fmt.Sprintf(`INSERT INTO scripts (id, owner_id, name, source, is_shared, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, sc.ID, sc.OwnerID, sc.Name, sc.Source, sc.IsShared, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "creating script", err)
	}
	return nil
}

func (s *sqlStore) ListScripts(ctx context.Context, ownerID string) ([]*Script, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, source, is_shared, created_at, updated_at FROM scripts WHERE owner_id=%s OR is_shared=%s`, s.ph(1), s.boolLit(true))
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing scripts", err)
	}
	defer rows.Close()
	var out []*Script
	for rows.Next() {
		sc := &Script{}
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.Source, &sc.IsShared, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning script", err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// --- Reminders ---

func (s *sqlStore) AddReminder(ctx context.Context, userID, text string) (*Reminder, error) {
	now := time.Now().UTC()
	r := &Reminder{ID: newID(), UserID: userID, Text: text, CreatedAt: now}
	q := fmt.Sprintf(`INSERT INTO reminders (id, user_id, text, is_complete, created_at) VALUES (%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, q, r.ID, r.UserID, r.Text, false, r.CreatedAt); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "adding reminder", err)
	}
	return r, nil
}

func (s *sqlStore) ListReminders(ctx context.Context, userID string, includeComplete bool) ([]*Reminder, error) {
	q := fmt.Sprintf(`SELECT id, user_id, text, is_complete, created_at, completed_at, due_at, notified_at FROM reminders WHERE user_id=%s`, s.ph(1))
	if !includeComplete {
		q += fmt.Sprintf(` AND is_complete=%s`, s.boolLit(false))
	}
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing reminders", err)
	}
	defer rows.Close()
	var out []*Reminder
	for rows.Next() {
		r := &Reminder{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &r.IsComplete, &r.CreatedAt, &r.CompletedAt, &r.DueAt, &r.NotifiedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning reminder", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *sqlStore) CompleteReminder(ctx context.Context, userID, id string) error {
	now := time.Now().UTC()
	q := fmt.Sprintf(`UPDATE reminders SET is_complete=%s, completed_at=%s WHERE id=%s AND user_id=%s`, s.boolLit(true), s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, q, now, id, userID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "completing reminder", err)
	}
	return s.requireAffected(res, "reminder")
}

func (s *sqlStore) RemoveReminder(ctx context.Context, userID, id string) error {
	q := fmt.Sprintf(`DELETE FROM reminders WHERE id=%s AND user_id=%s`, s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "removing reminder", err)
	}
	return s.requireAffected(res, "reminder")
}

func (s *sqlStore) SetReminderDue(ctx context.Context, userID, id string, dueAt *time.Time) error {
	q := fmt.Sprintf(`UPDATE reminders SET due_at=%s WHERE id=%s AND user_id=%s`, s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, q, dueAt, id, userID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "setting reminder due date", err)
	}
	return s.requireAffected(res, "reminder")
}

func (s *sqlStore) DueUnnotifiedReminders(ctx context.Context) ([]*Reminder, error) {
	q := fmt.Sprintf(`SELECT id, user_id, text, is_complete, created_at, completed_at, due_at, notified_at FROM reminders
		WHERE due_at IS NOT NULL AND due_at <= %s AND notified_at IS NULL`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, time.Now().UTC())
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing due reminders", err)
	}
	defer rows.Close()
	var out []*Reminder
	for rows.Next() {
		r := &Reminder{}
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &r.IsComplete, &r.CreatedAt, &r.CompletedAt, &r.DueAt, &r.NotifiedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning reminder", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// MarkReminderNotified performs the exactly-once transition on notifiedAt:
// it only succeeds (returns true) if notifiedAt was NULL beforehand, so two
// concurrent sweepers can't both "win".
func (s *sqlStore) MarkReminderNotified(ctx context.Context, id string) (bool, error) {
	q := fmt.Sprintf(`UPDATE reminders SET notified_at=%s WHERE id=%s AND notified_at IS NULL`, s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return false, apperr.Wrap(apperr.Transport, "marking reminder notified", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqlStore) requireAffected(res sql.Result, noun string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.Transport, "checking affected rows", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "%s not found", noun)
	}
	return nil
}

// --- Workflows & runs ---

func (s *sqlStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, steps_json, is_active, created_at, updated_at FROM workflows WHERE id=%s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, id)
	w := &Workflow{}
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.StepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "workflow not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading workflow", err)
	}
	return w, nil
}

func (s *sqlStore) ListActiveWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, steps_json, is_active, created_at, updated_at FROM workflows WHERE owner_id=%s AND is_active=%s`,
		s.ph(1), s.boolLit(true))
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing workflows", err)
	}
	defer rows.Close()
	var out []*Workflow
	for rows.Next() {
		w := &Workflow{}
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Name, &w.StepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning workflow", err)
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *sqlStore) FindActiveWorkflowByExactName(ctx context.Context, ownerID, name string) (*Workflow, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, steps_json, is_active, created_at, updated_at FROM workflows
		WHERE owner_id=%s AND is_active=%s AND lower(name)=lower(%s)`, s.ph(1), s.boolLit(true), s.ph(2))
	row := s.db.QueryRowContext(ctx, q, ownerID, name)
	w := &Workflow{}
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.StepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "workflow not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading workflow", err)
	}
	return w, nil
}

func (s *sqlStore) FindInactiveWorkflowByExactName(ctx context.Context, ownerID, name string) (*Workflow, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, steps_json, is_active, created_at, updated_at FROM workflows
		WHERE owner_id=%s AND is_active=%s AND lower(name)=lower(%s)`, s.ph(1), s.boolLit(false), s.ph(2))
	row := s.db.QueryRowContext(ctx, q, ownerID, name)
	w := &Workflow{}
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Name, &w.StepsJSON, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "workflow not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading workflow", err)
	}
	return w, nil
}

func (s *sqlStore) CreateWorkflow(ctx context.Context, w *Workflow) error {
	if w.ID == "" {
		w.ID = newID()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	q := fmt.Sprintf(`INSERT INTO workflows (id, owner_id, name, steps_json, is_active, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, w.ID, w.OwnerID, w.Name, w.StepsJSON, w.IsActive, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "creating workflow", err)
	}
	return nil
}

func (s *sqlStore) UpdateWorkflow(ctx context.Context, w *Workflow) error {
	w.UpdatedAt = time.Now().UTC()
	q := fmt.Sprintf(`UPDATE workflows SET name=%s, steps_json=%s, is_active=%s, updated_at=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	res, err := s.db.ExecContext(ctx, q, w.Name, w.StepsJSON, w.IsActive, w.UpdatedAt, w.ID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "updating workflow", err)
	}
	return s.requireAffected(res, "workflow")
}

func (s *sqlStore) CreateWorkflowRun(ctx context.Context, workflowID, ownerID string) (*WorkflowRun, error) {
	run := &WorkflowRun{ID: newID(), WorkflowID: workflowID, OwnerID: ownerID, Status: RunRunning, StepsResultJSON: "[]", StartedAt: time.Now().UTC()}
	q := fmt.Sprintf(`INSERT INTO workflow_runs (id, workflow_id, owner_id, status, steps_result_json, started_at) VALUES (%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err := s.db.ExecContext(ctx, q, run.ID, run.WorkflowID, run.OwnerID, string(run.Status), run.StepsResultJSON, run.StartedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "creating workflow run", err)
	}
	return run, nil
}

func (s *sqlStore) UpdateWorkflowRun(ctx context.Context, run *WorkflowRun) error {
	q := fmt.Sprintf(`UPDATE workflow_runs SET status=%s, steps_result_json=%s, completed_at=%s, error=%s WHERE id=%s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, string(run.Status), run.StepsResultJSON, run.CompletedAt, run.Error, run.ID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "updating workflow run", err)
	}
	return nil
}

// --- Schedules ---

func (s *sqlStore) ListActiveSchedules(ctx context.Context) ([]*Schedule, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, workflow_id, cron_expression, timezone, is_active, last_run_at, next_run_at FROM schedules WHERE is_active=%s`, s.boolLit(true))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing schedules", err)
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		sc := &Schedule{}
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.WorkflowID, &sc.CronExpression, &sc.Timezone, &sc.IsActive, &sc.LastRunAt, &sc.NextRunAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning schedule", err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (s *sqlStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, workflow_id, cron_expression, timezone, is_active, last_run_at, next_run_at FROM schedules WHERE id=%s`, s.ph(1))
	row := s.db.QueryRowContext(ctx, q, id)
	sc := &Schedule{}
	if err := row.Scan(&sc.ID, &sc.OwnerID, &sc.WorkflowID, &sc.CronExpression, &sc.Timezone, &sc.IsActive, &sc.LastRunAt, &sc.NextRunAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "schedule not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading schedule", err)
	}
	return sc, nil
}

func (s *sqlStore) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" {
		sc.ID = newID()
	}
	sc.IsActive = true
	q := fmt.Sprintf(`INSERT INTO schedules (id, owner_id, workflow_id, cron_expression, timezone, is_active, last_run_at, next_run_at) VALUES (%s,%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8))
	_, err := s.db.ExecContext(ctx, q, sc.ID, sc.OwnerID, sc.WorkflowID, sc.CronExpression, sc.Timezone, sc.IsActive, sc.LastRunAt, sc.NextRunAt)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "creating schedule", err)
	}
	return nil
}

func (s *sqlStore) UpdateScheduleTick(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	q := fmt.Sprintf(`UPDATE schedules SET last_run_at=%s, next_run_at=%s WHERE id=%s`, s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.ExecContext(ctx, q, lastRunAt, nextRunAt, id)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "updating schedule tick", err)
	}
	return nil
}

func (s *sqlStore) RemoveSchedule(ctx context.Context, id string) error {
	q := fmt.Sprintf(`UPDATE schedules SET is_active=%s WHERE id=%s`, s.boolLit(false), s.ph(1))
	_, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "removing schedule", err)
	}
	return nil
}

// --- Credentials ---

func (s *sqlStore) CreateCredential(ctx context.Context, c *UserCredential) error {
	if c.ID == "" {
		c.ID = newID()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	q := fmt.Sprintf(`INSERT INTO user_credentials (id, owner_id, name, service, encrypted_value, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err := s.db.ExecContext(ctx, q, c.ID, c.OwnerID, c.Name, c.Service, c.EncryptedValue, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "creating credential", err)
	}
	return nil
}

func (s *sqlStore) GetCredentialByName(ctx context.Context, ownerID, name string) (*UserCredential, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, service, encrypted_value, created_at, updated_at FROM user_credentials WHERE owner_id=%s AND name=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRowContext(ctx, q, ownerID, name)
	c := &UserCredential{}
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Service, &c.EncryptedValue, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.NotFound, "credential %q not found", name)
		}
		return nil, apperr.Wrap(apperr.Transport, "loading credential", err)
	}
	return c, nil
}

func (s *sqlStore) ListCredentials(ctx context.Context, ownerID string) ([]*UserCredential, error) {
	q := fmt.Sprintf(`SELECT id, owner_id, name, service, created_at, updated_at FROM user_credentials WHERE owner_id=%s`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing credentials", err)
	}
	defer rows.Close()
	var out []*UserCredential
	for rows.Next() {
		c := &UserCredential{}
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Service, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning credential", err)
		}
		out = append(out, c) // EncryptedValue deliberately left empty: metadata only
	}
	return out, nil
}

func (s *sqlStore) DeleteCredential(ctx context.Context, ownerID, id string) error {
	q := fmt.Sprintf(`DELETE FROM user_credentials WHERE id=%s AND owner_id=%s`, s.ph(1), s.ph(2))
	res, err := s.db.ExecContext(ctx, q, id, ownerID)
	if err != nil {
		return apperr.Wrap(apperr.Transport, "deleting credential", err)
	}
	return s.requireAffected(res, "credential")
}

// --- Files ---

func (s *sqlStore) UpsertFileMetadata(ctx context.Context, f *FileMetadata) error {
	_, err := s.GetFileMetadata(ctx, f.UserID, f.Filename)
	if err == nil {
		q := fmt.Sprintf(`UPDATE file_metadata SET tracked=%s, last_uploaded_at=%s WHERE user_id=%s AND filename=%s`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4))
		_, err := s.db.ExecContext(ctx, q, f.Tracked, f.LastUploadedAt, f.UserID, f.Filename)
		if err != nil {
			return apperr.Wrap(apperr.Transport, "updating file metadata", err)
		}
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO file_metadata (user_id, filename, tracked, last_uploaded_at) VALUES (%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := s.db.ExecContext(ctx, q, f.UserID, f.Filename, f.Tracked, f.LastUploadedAt); err != nil {
		return apperr.Wrap(apperr.Transport, "inserting file metadata", err)
	}
	return nil
}

func (s *sqlStore) GetFileMetadata(ctx context.Context, userID, filename string) (*FileMetadata, error) {
	q := fmt.Sprintf(`SELECT user_id, filename, tracked, last_uploaded_at FROM file_metadata WHERE user_id=%s AND filename=%s`, s.ph(1), s.ph(2))
	row := s.db.QueryRowContext(ctx, q, userID, filename)
	f := &FileMetadata{}
	if err := row.Scan(&f.UserID, &f.Filename, &f.Tracked, &f.LastUploadedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "file metadata not found")
		}
		return nil, apperr.Wrap(apperr.Transport, "loading file metadata", err)
	}
	return f, nil
}

func (s *sqlStore) ListFileMetadata(ctx context.Context, userID string) ([]*FileMetadata, error) {
	q := fmt.Sprintf(`SELECT user_id, filename, tracked, last_uploaded_at FROM file_metadata WHERE user_id=%s`, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "listing file metadata", err)
	}
	defer rows.Close()
	var out []*FileMetadata
	for rows.Next() {
		f := &FileMetadata{}
		if err := rows.Scan(&f.UserID, &f.Filename, &f.Tracked, &f.LastUploadedAt); err != nil {
			return nil, apperr.Wrap(apperr.Transport, "scanning file metadata", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// --- Debug log ---

func (s *sqlStore) AppendDebugLog(ctx context.Context, userID, conversationID, payload string) error {
	q := fmt.Sprintf(`INSERT INTO debug_logs (id, user_id, conversation_id, payload, created_at) VALUES (%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	_, err := s.db.ExecContext(ctx, q, newID(), userID, conversationID, payload, time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.Transport, "appending debug log", err)
	}
	return nil
}
