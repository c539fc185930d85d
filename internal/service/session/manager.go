package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/model/profile"
	chatservice "github.com/zhouzirui/z-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/z-counsel/backend/internal/service/speech"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrManagerClosed   = errors.New("session manager is shut down")
)

// Options configures the sessions a Manager creates.
type Options struct {
	// IdleTimeout ends sessions nobody has touched for this long. Zero disables reaping.
	IdleTimeout     time.Duration
	AnswerTimeout   time.Duration
	HistoryLimit    int
	AllowConcurrent bool
	// Voice is the TTS speaker used when the profile does not name one.
	Voice string
}

// Session is one browser tab's conversation: the message log plus the
// controller reading its answers aloud.
type Session struct {
	ID        string
	Profile   profile.Profile
	CreatedAt time.Time
	Store     *chatservice.Store
	Speech    *speech.Controller
	Player    *speech.RemotePlayer

	done     chan struct{}
	lastSeen time.Time
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Info returns the serialisable view of the session.
func (s *Session) Info() chat.Session {
	return chat.Session{
		ID:        s.ID,
		ProfileID: s.Profile.ID,
		CreatedAt: s.CreatedAt,
		Messages:  s.Store.Messages(),
	}
}

// connected reports whether a browser still holds the event feed or the
// playback channel.
func (s *Session) connected() bool {
	return s.Store.Subscribers() > 0 || s.Player.Attached()
}

func (s *Session) teardown() {
	s.Speech.Close()
	s.Store.Close()
	close(s.done)
}

// Manager owns the live sessions.
type Manager struct {
	answerer chatservice.Answerer
	synth    speech.Synthesizer
	profiles profile.Store
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	now func() time.Time
}

// NewManager creates a session manager. synth may be nil, in which case the
// browser synthesises speech itself.
func NewManager(answerer chatservice.Answerer, synth speech.Synthesizer, profiles profile.Store, opts Options) *Manager {
	if profiles == nil {
		profiles = profile.NewMemoryStore(nil)
	}
	return &Manager{
		answerer: answerer,
		synth:    synth,
		profiles: profiles,
		opts:     opts,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a seeded session for profileID, or the default profile when empty.
func (m *Manager) Create(profileID string) (*Session, error) {
	p := m.profiles.Default()
	if profileID != "" {
		found, ok := m.profiles.FindByID(profileID)
		if !ok {
			return nil, ErrProfileNotFound
		}
		p = found
	}

	id := uuid.NewString()
	store := chatservice.NewStore(m.answerer, chatservice.Options{
		SessionID:       id,
		Greeting:        p.Greeting,
		Placeholder:     p.Placeholder,
		ErrorPrefix:     p.ErrorPrefix,
		Timeout:         m.opts.AnswerTimeout,
		HistoryLimit:    m.opts.HistoryLimit,
		AllowConcurrent: m.opts.AllowConcurrent,
	})
	store.Seed()

	voice := p.VoiceID
	if voice == "" {
		voice = m.opts.Voice
	}
	player := speech.NewRemotePlayer(id, m.synth, voice)
	controller := speech.NewController(player,
		speech.WithVoice(p.Language, p.SpeechRate),
		speech.WithReadiness(player.Attached),
		speech.WithStateListener(func(active string) {
			store.Publish(chatservice.Event{Type: chatservice.EventSpeechChanged, ActiveMessageID: active})
		}),
	)

	now := m.now()
	sess := &Session{
		ID:        id,
		Profile:   p,
		CreatedAt: now,
		Store:     store,
		Speech:    controller,
		Player:    player,
		done:      make(chan struct{}),
		lastSeen:  now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.teardown()
		return nil, ErrManagerClosed
	}
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	log.Printf("[session] created session=%s profile=%s active=%d", id, p.ID, count)
	return sess, nil
}

// Get returns a live session and marks it as recently used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = m.now()
	return sess, nil
}

// End tears the session down: playback stops, pending answers are discarded
// and subscribers are released.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	sess.teardown()
	log.Printf("[session] ended session=%s", id)
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap ends sessions idle longer than the configured timeout and returns how
// many were ended. Sessions with an open event feed or playback channel are
// kept and their idle clock restarts.
func (m *Manager) Reap() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	cutoff := m.now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if !sess.lastSeen.Before(cutoff) {
			continue
		}
		// 页面仍打开着事件流或播放通道时视为活跃
		if sess.connected() {
			sess.lastSeen = m.now()
			continue
		}
		expired = append(expired, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range expired {
		sess.teardown()
		log.Printf("[session] reaped idle session=%s", sess.ID)
	}
	return len(expired)
}

// Run reaps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}

	interval := m.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Shutdown ends every session and refuses new ones.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.teardown()
	}
	log.Printf("[session] shutdown ended %d sessions", len(sessions))
}
