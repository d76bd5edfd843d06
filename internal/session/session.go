// Package session holds per-conversation state: the sticky filter
// context, cached portfolio positions, the last alternatives set, and
// the chat transcript.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ggonzalez94/defi-advisor/internal/model"
)

// Greeting opens every new transcript.
const Greeting = "Hi! I can explore your DeFi positions and look for better yield. " +
	"Ask me things like \"show my portfolio\", \"opportunities for USDC on arbitrum\" or \"position 2\"."

// Session is one conversation's state. It is never shared across
// sessions; a caller serving concurrent conversations creates one
// Session each and the internal lock only guards that single instance.
type Session struct {
	ID string

	mu          sync.Mutex
	ctx         *model.FilterContext
	positions   []model.PositionRecord
	lastResults []model.YieldPool
	messages    []model.ConversationMessage
}

func New() *Session {
	return &Session{
		ID:  uuid.NewString(),
		ctx: &model.FilterContext{},
		messages: []model.ConversationMessage{
			{Role: model.RoleAssistant, Content: Greeting},
		},
	}
}

// Context returns a copy of the current filter context, safe for a turn
// to interpret against without holding the lock.
func (s *Session) Context() *model.FilterContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := s.ctx.Clone()
	return &clone
}

// Commit installs the turn's updated context and result set once the
// whole turn has succeeded.
func (s *Session) Commit(ctx *model.FilterContext, results []model.YieldPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.lastResults = results
}

// SetContext installs the turn's interpreted context without touching
// the last result set. It runs before any collaborator fetch, so the
// query history and filter updates survive a failed fetch while the
// previous results stay addressable.
func (s *Session) SetContext(ctx *model.FilterContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
}

func (s *Session) LastResults() []model.YieldPool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.YieldPool, len(s.lastResults))
	copy(out, s.lastResults)
	return out
}

// SetPositions caches normalized portfolio positions for the session.
func (s *Session) SetPositions(records []model.PositionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = records
}

func (s *Session) Positions() []model.PositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PositionRecord, len(s.positions))
	copy(out, s.positions)
	return out
}

// Position returns the record at a 0-based index.
func (s *Session) Position(idx int) (model.PositionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.positions) {
		return model.PositionRecord{}, false
	}
	return s.positions[idx], true
}

// Append adds one message to the transcript. The transcript is
// append-only; nothing ever rewrites past messages.
func (s *Session) Append(role model.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, model.ConversationMessage{Role: role, Content: content})
}

func (s *Session) Transcript() []model.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ConversationMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset discards filters, cached positions and results for an explicit
// re-analysis. The transcript survives; the conversation itself is not
// erased.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = &model.FilterContext{QueryHistory: s.ctx.QueryHistory}
	s.positions = nil
	s.lastResults = nil
}
