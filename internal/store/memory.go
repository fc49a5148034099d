package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/MikeSquared-Agency/chatvault/internal/record"
)

// Memory is an in-memory Store used by tests and dry runs. Transactions
// snapshot the full dataset at Begin and swap it back in on Commit; the
// import pipeline is single-writer, so last-commit-wins is acceptable.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	importLogs    map[string]record.ImportLog
	conversations map[string]record.Conversation
	messages      map[string]record.Message
	messageOrder  []string
	feedback      map[string]record.Feedback
	comparisons   []record.ModelComparison
	timeline      []record.TimelineEntry
	profiles      map[string]record.AccountProfile
	ttlAuth       map[string]record.TTLAuth
	ttlBilling    map[string]record.TTLBilling
	ttlSessions   map[string]record.TTLSession
}

func newMemData() *memData {
	return &memData{
		importLogs:    make(map[string]record.ImportLog),
		conversations: make(map[string]record.Conversation),
		messages:      make(map[string]record.Message),
		feedback:      make(map[string]record.Feedback),
		profiles:      make(map[string]record.AccountProfile),
		ttlAuth:       make(map[string]record.TTLAuth),
		ttlBilling:    make(map[string]record.TTLBilling),
		ttlSessions:   make(map[string]record.TTLSession),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.importLogs {
		c.importLogs[k] = v
	}
	for k, v := range d.conversations {
		c.conversations[k] = v
	}
	for k, v := range d.messages {
		c.messages[k] = v
	}
	c.messageOrder = append([]string(nil), d.messageOrder...)
	for k, v := range d.feedback {
		c.feedback[k] = v
	}
	c.comparisons = append([]record.ModelComparison(nil), d.comparisons...)
	c.timeline = append([]record.TimelineEntry(nil), d.timeline...)
	for k, v := range d.profiles {
		c.profiles[k] = v
	}
	for k, v := range d.ttlAuth {
		c.ttlAuth[k] = v
	}
	for k, v := range d.ttlBilling {
		c.ttlBilling[k] = v
	}
	for k, v := range d.ttlSessions {
		c.ttlSessions[k] = v
	}
	return c
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func msgKey(conversationID, messageID string) string {
	return conversationID + "\x00" + messageID
}

func ttlKey(userID, folderID string) string {
	return userID + "\x00" + folderID
}

func (m *Memory) GetImportLog(_ context.Context, folder string) (*record.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log, ok := m.data.importLogs[folder]; ok {
		return &log, nil
	}
	return nil, nil
}

func (m *Memory) PutImportLog(_ context.Context, log record.ImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.importLogs[log.ExportFolder] = log
	return nil
}

func (m *Memory) ListImportLogs(_ context.Context) ([]record.ImportLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := make([]record.ImportLog, 0, len(m.data.importLogs))
	for _, log := range m.data.importLogs {
		logs = append(logs, log)
	}
	return logs, nil
}

func (m *Memory) Begin(_ context.Context) (Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{parent: m, staged: m.data.clone()}, nil
}

func (m *Memory) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data.conversations, conversationID)

	var order []string
	for _, key := range m.data.messageOrder {
		if msg, ok := m.data.messages[key]; ok && msg.ConversationID == conversationID {
			delete(m.data.messages, key)
			continue
		}
		order = append(order, key)
	}
	m.data.messageOrder = order

	for id, f := range m.data.feedback {
		if f.ConversationID == conversationID {
			delete(m.data.feedback, id)
		}
	}

	var comparisons []record.ModelComparison
	for _, c := range m.data.comparisons {
		if c.ConversationID != conversationID {
			comparisons = append(comparisons, c)
		}
	}
	m.data.comparisons = comparisons

	var timeline []record.TimelineEntry
	for _, e := range m.data.timeline {
		if e.ConversationID != conversationID {
			timeline = append(timeline, e)
		}
	}
	m.data.timeline = timeline

	return nil
}

func (m *Memory) Close() {}

// Snapshot accessors for tests.

func (m *Memory) Conversations() []record.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Conversation, 0, len(m.data.conversations))
	for _, c := range m.data.conversations {
		out = append(out, c)
	}
	return out
}

func (m *Memory) Messages() []record.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Message, 0, len(m.data.messageOrder))
	for _, key := range m.data.messageOrder {
		if msg, ok := m.data.messages[key]; ok {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) Timeline() []record.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.TimelineEntry(nil), m.data.timeline...)
}

func (m *Memory) FeedbackRecords() []record.Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Feedback, 0, len(m.data.feedback))
	for _, f := range m.data.feedback {
		out = append(out, f)
	}
	return out
}

func (m *Memory) Comparisons() []record.ModelComparison {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.ModelComparison(nil), m.data.comparisons...)
}

func (m *Memory) TTLSessions() []record.TTLSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.TTLSession, 0, len(m.data.ttlSessions))
	for _, s := range m.data.ttlSessions {
		out = append(out, s)
	}
	return out
}

func (m *Memory) TTLAuthRecords() []record.TTLAuth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.TTLAuth, 0, len(m.data.ttlAuth))
	for _, a := range m.data.ttlAuth {
		out = append(out, a)
	}
	return out
}

func (m *Memory) TTLBillingRecords() []record.TTLBilling {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.TTLBilling, 0, len(m.data.ttlBilling))
	for _, b := range m.data.ttlBilling {
		out = append(out, b)
	}
	return out
}

// memTx stages writes against a snapshot and swaps the snapshot in on
// Commit.
type memTx struct {
	parent *Memory
	staged *memData
	done   bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	t.parent.data = t.staged
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

func (t *memTx) GetConversation(_ context.Context, conversationID string) (*record.Conversation, error) {
	if c, ok := t.staged.conversations[conversationID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (t *memTx) InsertConversation(_ context.Context, c record.Conversation) error {
	if _, ok := t.staged.conversations[c.ConversationID]; ok {
		return fmt.Errorf("conversation %s already exists", c.ConversationID)
	}
	t.staged.conversations[c.ConversationID] = c
	return nil
}

func (t *memTx) UpdateConversation(_ context.Context, c record.Conversation) error {
	if _, ok := t.staged.conversations[c.ConversationID]; !ok {
		return fmt.Errorf("conversation %s not found", c.ConversationID)
	}
	t.staged.conversations[c.ConversationID] = c
	return nil
}

func (t *memTx) CountMessages(_ context.Context, conversationID string) (int, error) {
	n := 0
	for _, m := range t.staged.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MessageExists(_ context.Context, conversationID, messageID string) (bool, error) {
	_, ok := t.staged.messages[msgKey(conversationID, messageID)]
	return ok, nil
}

func (t *memTx) InsertMessage(_ context.Context, m record.Message) error {
	key := msgKey(m.ConversationID, m.MessageID)
	if _, ok := t.staged.messages[key]; ok {
		return fmt.Errorf("message %s/%s already exists", m.ConversationID, m.MessageID)
	}
	t.staged.messages[key] = m
	t.staged.messageOrder = append(t.staged.messageOrder, key)
	return nil
}

func (t *memTx) FeedbackExists(_ context.Context, feedbackID string) (bool, error) {
	_, ok := t.staged.feedback[feedbackID]
	return ok, nil
}

func (t *memTx) InsertFeedback(_ context.Context, f record.Feedback) error {
	if _, ok := t.staged.feedback[f.FeedbackID]; ok {
		return fmt.Errorf("feedback %s already exists", f.FeedbackID)
	}
	t.staged.feedback[f.FeedbackID] = f
	return nil
}

func (t *memTx) InsertComparison(_ context.Context, c record.ModelComparison) error {
	t.staged.comparisons = append(t.staged.comparisons, c)
	return nil
}

func (t *memTx) InsertTimelineEntry(_ context.Context, e record.TimelineEntry) error {
	t.staged.timeline = append(t.staged.timeline, e)
	return nil
}

func (t *memTx) ProfileExists(_ context.Context, folder string) (bool, error) {
	_, ok := t.staged.profiles[folder]
	return ok, nil
}

func (t *memTx) InsertProfile(_ context.Context, p record.AccountProfile) error {
	t.staged.profiles[p.ExportFolder] = p
	return nil
}

func (t *memTx) TTLAuthExists(_ context.Context, userID, folderID string) (bool, error) {
	_, ok := t.staged.ttlAuth[ttlKey(userID, folderID)]
	return ok, nil
}

func (t *memTx) InsertTTLAuth(_ context.Context, a record.TTLAuth) error {
	t.staged.ttlAuth[ttlKey(a.UserID, a.ExportFolder)] = a
	return nil
}

func (t *memTx) TTLBillingExists(_ context.Context, userID, folderID string) (bool, error) {
	_, ok := t.staged.ttlBilling[ttlKey(userID, folderID)]
	return ok, nil
}

func (t *memTx) InsertTTLBilling(_ context.Context, b record.TTLBilling) error {
	t.staged.ttlBilling[ttlKey(b.UserID, b.ExportFolder)] = b
	return nil
}

func (t *memTx) TTLSessionExists(_ context.Context, sessionID string) (bool, error) {
	_, ok := t.staged.ttlSessions[sessionID]
	return ok, nil
}

func (t *memTx) InsertTTLSession(_ context.Context, s record.TTLSession) error {
	t.staged.ttlSessions[s.SessionID] = s
	return nil
}
