// Package store persists per-conversation chat state: the full role-tagged
// history, the active context-window size, and the bound agent name.
//
// Records are created lazily on first access. History is append-only; the
// window only ever shrinks by adjusting window_size, so the full history is
// retained for audit. A single store-wide mutex serializes every operation,
// including composite read-modify-write helpers, so concurrent callers
// cannot lose updates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/nekocord/nekocord/pkg/models"
)

// MetaResolver supplies display names for records created on first access.
// Names are denormalized into the record at creation and never refreshed.
type MetaResolver interface {
	ChannelName(ctx context.Context, m *models.Message) string
	GuildName(ctx context.Context, m *models.Message) string
}

// Store is the SQLite-backed conversation store.
type Store struct {
	db           *sql.DB
	defaultAgent string
	meta         MetaResolver

	mu       sync.Mutex
	onChange []func(conversationID string)

	log *slog.Logger
}

// Open opens (creating if needed) the store at path. defaultAgent is bound
// to records created on miss.
func Open(path, defaultAgent string, meta MetaResolver, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite serializes writers; a single connection avoids busy errors
	// under the store mutex.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:           db,
		defaultAgent: defaultAgent,
		meta:         meta,
		log:          logger.With("component", "store"),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			channel_id   TEXT PRIMARY KEY,
			platform     TEXT NOT NULL DEFAULT '',
			channel_name TEXT NOT NULL DEFAULT '',
			guild_id     TEXT NOT NULL DEFAULT '',
			guild_name   TEXT NOT NULL DEFAULT '',
			history      TEXT NOT NULL DEFAULT '[]',
			window_size  INTEGER NOT NULL DEFAULT 0,
			agent        TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnChange registers a notification hook fired after a stored field is
// updated. Creation on miss does not notify, and neither does writing a
// value equal to the stored one.
func (s *Store) OnChange(fn func(conversationID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

func (s *Store) notify(id string) {
	s.mu.Lock()
	handlers := make([]func(string), len(s.onChange))
	copy(handlers, s.onChange)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(id)
	}
}

// History returns the full stored history, creating the record on miss.
func (s *Store) History(ctx context.Context, m *models.Message) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLocked(ctx, m)
}

// SetHistory replaces the stored history.
func (s *Store) SetHistory(ctx context.Context, m *models.Message, turns []models.Turn) error {
	s.mu.Lock()
	changed, err := s.setHistoryLocked(ctx, m, turns)
	s.mu.Unlock()
	if changed {
		s.notify(m.Conversation.ID)
	}
	return err
}

// WindowSize returns the active context-window size, creating the record on
// miss.
func (s *Store) WindowSize(ctx context.Context, m *models.Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowSizeLocked(ctx, m)
}

// SetWindowSize sets the active context-window size.
func (s *Store) SetWindowSize(ctx context.Context, m *models.Message, size int) error {
	s.mu.Lock()
	changed, err := s.setWindowSizeLocked(ctx, m, size)
	s.mu.Unlock()
	if changed {
		s.notify(m.Conversation.ID)
	}
	return err
}

// AgentName returns the agent bound to the conversation, creating the
// record on miss. The default agent is returned when no binding exists.
func (s *Store) AgentName(ctx context.Context, m *models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentNameLocked(ctx, m)
}

// SetAgentName binds an agent to the conversation.
func (s *Store) SetAgentName(ctx context.Context, m *models.Message, name string) error {
	s.mu.Lock()
	changed, err := s.setAgentNameLocked(ctx, m, name)
	s.mu.Unlock()
	if changed {
		s.notify(m.Conversation.ID)
	}
	return err
}

// PushHistory appends turns to the stored history.
func (s *Store) PushHistory(ctx context.Context, m *models.Message, turns ...models.Turn) error {
	s.mu.Lock()
	old, err := s.historyLocked(ctx, m)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	changed, err := s.setHistoryLocked(ctx, m, append(old, turns...))
	s.mu.Unlock()
	if changed {
		s.notify(m.Conversation.ID)
	}
	return err
}

// IncrementWindowSize grows the context window by one turn and returns the
// new size.
func (s *Store) IncrementWindowSize(ctx context.Context, m *models.Message) (int, error) {
	s.mu.Lock()
	old, err := s.windowSizeLocked(ctx, m)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	changed, err := s.setWindowSizeLocked(ctx, m, old+1)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if changed {
		s.notify(m.Conversation.ID)
	}
	return old + 1, nil
}

// ClearContext resets the context window to zero. History is untouched.
func (s *Store) ClearContext(ctx context.Context, m *models.Message) error {
	return s.SetWindowSize(ctx, m, 0)
}

// Context returns the trailing window_size turns of history, or nil when
// the window is empty. A window larger than the history (a transient state)
// yields the whole history.
func (s *Store) Context(ctx context.Context, m *models.Message) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.windowSizeLocked(ctx, m)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	history, err := s.historyLocked(ctx, m)
	if err != nil {
		return nil, err
	}
	if size > len(history) {
		return history, nil
	}
	return history[len(history)-size:], nil
}

// locked field accessors. Callers hold s.mu.

func (s *Store) historyLocked(ctx context.Context, m *models.Message) ([]models.Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT history FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.createLocked(ctx, m, "[]", 0, s.defaultAgent); err != nil {
			return nil, err
		}
		return []models.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []models.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

func (s *Store) setHistoryLocked(ctx context.Context, m *models.Message, turns []models.Turn) (bool, error) {
	encoded, err := json.Marshal(turns)
	if err != nil {
		return false, fmt.Errorf("encode history: %w", err)
	}
	var current string
	err = s.db.QueryRowContext(ctx,
		`SELECT history FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, s.createLocked(ctx, m, string(encoded), 0, s.defaultAgent)
	}
	if err != nil {
		return false, fmt.Errorf("read history: %w", err)
	}
	if current == string(encoded) {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET history = ? WHERE channel_id = ?`,
		string(encoded), m.Conversation.ID); err != nil {
		return false, fmt.Errorf("write history: %w", err)
	}
	return true, nil
}

func (s *Store) windowSizeLocked(ctx context.Context, m *models.Message) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx,
		`SELECT window_size FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.createLocked(ctx, m, "[]", 0, s.defaultAgent); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read window size: %w", err)
	}
	return size, nil
}

func (s *Store) setWindowSizeLocked(ctx context.Context, m *models.Message, size int) (bool, error) {
	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT window_size FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, s.createLocked(ctx, m, "[]", size, s.defaultAgent)
	}
	if err != nil {
		return false, fmt.Errorf("read window size: %w", err)
	}
	if current == size {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET window_size = ? WHERE channel_id = ?`,
		size, m.Conversation.ID); err != nil {
		return false, fmt.Errorf("write window size: %w", err)
	}
	return true, nil
}

func (s *Store) agentNameLocked(ctx context.Context, m *models.Message) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.createLocked(ctx, m, "[]", 0, s.defaultAgent); err != nil {
			return "", err
		}
		return s.defaultAgent, nil
	}
	if err != nil {
		return "", fmt.Errorf("read agent: %w", err)
	}
	if name == "" {
		return s.defaultAgent, nil
	}
	return name, nil
}

func (s *Store) setAgentNameLocked(ctx context.Context, m *models.Message, name string) (bool, error) {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT agent FROM conversations WHERE channel_id = ?`, m.Conversation.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, s.createLocked(ctx, m, "[]", 0, name)
	}
	if err != nil {
		return false, fmt.Errorf("read agent: %w", err)
	}
	if current == name {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET agent = ? WHERE channel_id = ?`,
		name, m.Conversation.ID); err != nil {
		return false, fmt.Errorf("write agent: %w", err)
	}
	return true, nil
}

// createLocked inserts a new record, resolving denormalized display names.
func (s *Store) createLocked(ctx context.Context, m *models.Message, history string, size int, agent string) error {
	var channelName, guildName string
	if s.meta != nil {
		channelName = s.meta.ChannelName(ctx, m)
		guildName = s.meta.GuildName(ctx, m)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (channel_id, platform, channel_name, guild_id, guild_name, history, window_size, agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Conversation.ID, m.Conversation.Platform, channelName,
		m.Conversation.GuildID, guildName, history, size, agent)
	if err != nil {
		return fmt.Errorf("create conversation record: %w", err)
	}
	s.log.Debug("conversation record created",
		"conversation_id", m.Conversation.ID,
		"channel_name", channelName,
		"guild_name", guildName)
	return nil
}
