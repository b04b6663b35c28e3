package app

import (
	"net/http"
	"sync"
	"time"

	"github.com/felixbrock/papersummarizer/internal/domain"
	"github.com/google/uuid"
)

type SessionState int

const (
	AwaitingInput SessionState = iota
	AwaitingFeedback
	SessionEnded
)

func (s SessionState) String() string {
	switch s {
	case AwaitingInput:
		return "awaiting-input"
	case AwaitingFeedback:
		return "awaiting-feedback"
	case SessionEnded:
		return "ended"
	}
	return "unknown"
}

// Session is one reviewer's conversation. It lives in memory until Reset.
type Session struct {
	Id string

	mu            sync.Mutex
	state         SessionState
	turns         []domain.Turn
	tokens        map[string]domain.FeedbackToken
	fewShots      *string
	prompt        *domain.PromptTemplate
	temperature   float64
	promptVersion string
	notes         []string
}

func NewSession(temperature float64) *Session {
	s := &Session{Id: uuid.NewString()}
	s.reset(temperature)
	return s
}

func (s *Session) reset(temperature float64) {
	s.state = AwaitingInput
	s.turns = nil
	s.tokens = map[string]domain.FeedbackToken{}
	s.fewShots = nil
	s.prompt = nil
	s.temperature = temperature
	s.promptVersion = ""
	s.notes = nil
}

// Reset clears every piece of session state and returns it to awaiting
// input. The id is kept so the client cookie stays valid.
func (s *Session) Reset(temperature float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(temperature)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.turns...)
}

func (s *Session) Notes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

func (s *Session) Temperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperature
}

func (s *Session) SetTemperature(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = t
}

func (s *Session) PromptVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promptVersion
}

func (s *Session) SetPromptVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == "latest" {
		v = ""
	}
	s.promptVersion = v
}

// OriginalInput is the content of the first user turn, the paper text.
func (s *Session) OriginalInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.Role == domain.RoleUser {
			return t.Content
		}
	}
	return ""
}

// Prompt is the template the last summary was generated with.
func (s *Session) Prompt() *domain.PromptTemplate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *Session) cachedFewShots() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fewShots == nil {
		return "", false
	}
	return *s.fewShots, true
}

func (s *Session) cacheFewShots(block string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fewShots = &block
}

func (s *Session) addUserTurn(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionEnded {
		return domain.ErrSessionEnded
	}
	s.turns = append(s.turns, domain.Turn{Role: domain.RoleUser, Content: content})
	return nil
}

// dropUnansweredTurn removes a trailing user turn so the history keeps
// alternating roles after a failed completion.
func (s *Session) dropUnansweredTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && s.turns[n-1].Role == domain.RoleUser {
		s.turns = s.turns[:n-1]
	}
}

func (s *Session) addAssistantTurn(content string, token domain.FeedbackToken, prompt domain.PromptTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, domain.Turn{Role: domain.RoleAssistant, Content: content, TokenId: token.Id})
	s.tokens[token.Id] = token
	s.prompt = &prompt
	s.state = AwaitingFeedback
}

// claimPendingToken returns the token of the last assistant turn when that
// turn still awaits feedback, and ends the session. Only one caller can
// claim a given turn.
func (s *Session) claimPendingToken() (domain.FeedbackToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionEnded {
		return domain.FeedbackToken{}, domain.ErrSessionEnded
	}
	if s.state != AwaitingFeedback || len(s.turns) == 0 {
		return domain.FeedbackToken{}, domain.ErrNoPendingTurn
	}
	last := s.turns[len(s.turns)-1]
	token, ok := s.tokens[last.TokenId]
	if last.Role != domain.RoleAssistant || !ok {
		return domain.FeedbackToken{}, domain.ErrNoPendingTurn
	}
	s.state = SessionEnded
	return token, nil
}

func (s *Session) addNote(note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, note)
}

const sessionCookie = "papersum_sid"

const sessionIdleTTL = 12 * time.Hour

type sessionEntry struct {
	session  *Session
	lastSeen time.Time
}

// SessionStore maps the session cookie to an in-memory Session.
type SessionStore struct {
	mu                 sync.Mutex
	sessions           map[string]*sessionEntry
	defaultTemperature float64
	now                func() time.Time
}

func NewSessionStore(defaultTemperature float64) *SessionStore {
	return &SessionStore{
		sessions:           map[string]*sessionEntry{},
		defaultTemperature: defaultTemperature,
		now:                time.Now,
	}
}

// Get returns the caller's session, starting a new one and setting the
// cookie when the request carries none or an unknown id.
func (st *SessionStore) Get(w http.ResponseWriter, r *http.Request) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.evict(now)

	if c, err := r.Cookie(sessionCookie); err == nil {
		if e, ok := st.sessions[c.Value]; ok {
			e.lastSeen = now
			return e.session
		}
	}

	s := NewSession(st.defaultTemperature)
	st.sessions[s.Id] = &sessionEntry{session: s, lastSeen: now}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.Id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

func (st *SessionStore) Reset(s *Session) {
	s.Reset(st.defaultTemperature)
}

func (st *SessionStore) evict(now time.Time) {
	for id, e := range st.sessions {
		if now.Sub(e.lastSeen) > sessionIdleTTL {
			delete(st.sessions, id)
		}
	}
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
