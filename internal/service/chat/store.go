package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
)

var (
	ErrEmptySubmission    = errors.New("question is empty and no attachments were given")
	ErrSubmissionInFlight = errors.New("a previous question is still being answered")
	ErrStoreClosed        = errors.New("chat session is closed")
	ErrMessageNotFound    = errors.New("message not found")
)

// Answerer is the external answer-generation collaborator.
type Answerer interface {
	Answer(ctx context.Context, q chat.Question) (string, error)
}

// StreamAnswerer is implemented by collaborators that can report partial text
// before the final answer is known.
type StreamAnswerer interface {
	Answerer
	StreamAnswer(ctx context.Context, q chat.Question, onDelta func(string)) (string, error)
}

// Options configures a Store.
type Options struct {
	SessionID   string
	Greeting    string
	Placeholder string
	ErrorPrefix string
	// Timeout bounds a single answer call. Zero means no bound.
	Timeout time.Duration
	// HistoryLimit caps the settled turns passed along with a question.
	HistoryLimit int
	// AllowConcurrent lets a new submission start while another is pending.
	AllowConcurrent bool
}

// Submission is returned synchronously by Submit, before the answer is known,
// so the caller can reset its input immediately.
type Submission struct {
	User      chat.Message `json:"user"`
	Assistant chat.Message `json:"assistant"`
}

// Store is the in-memory, append-only message log of one chat session and the
// owner of its submission lifecycle.
type Store struct {
	opts     Options
	answerer Answerer
	events   *Broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	messages []chat.Message
	index    map[string]int
	pending  int
	closed   bool
	inflight sync.WaitGroup

	now func() time.Time
}

// NewStore creates an empty store. Call Seed before handing it to a view.
func NewStore(answerer Answerer, opts Options) *Store {
	if opts.Placeholder == "" {
		opts.Placeholder = "..."
	}
	if opts.ErrorPrefix == "" {
		opts.ErrorPrefix = "error"
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		opts:     opts,
		answerer: answerer,
		events:   NewBroadcaster(),
		ctx:      ctx,
		cancel:   cancel,
		messages: make([]chat.Message, 0, 16),
		index:    make(map[string]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Seed appends the greeting message. It only has an effect on an empty log.
func (s *Store) Seed() {
	s.mu.Lock()
	if s.closed || len(s.messages) > 0 {
		s.mu.Unlock()
		return
	}
	msg := s.appendLocked(chat.RoleAssistant, s.opts.Greeting, nil, chat.StatusResolved)
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventMessageAppended, Message: &msg})
}

// Submit records a question and starts answering it in the background.
// The user message and the pending assistant placeholder are appended, in that
// order, before Submit returns and before the collaborator is called.
func (s *Store) Submit(question string, attachments []chat.Attachment) (Submission, error) {
	if strings.TrimSpace(question) == "" && len(attachments) == 0 {
		return Submission{}, ErrEmptySubmission
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Submission{}, ErrStoreClosed
	}
	if s.pending > 0 && !s.opts.AllowConcurrent {
		s.mu.Unlock()
		return Submission{}, ErrSubmissionInFlight
	}

	history := s.historyLocked()
	userMsg := s.appendLocked(chat.RoleUser, question, chat.AttachmentNames(attachments), chat.StatusResolved)
	placeholder := s.appendLocked(chat.RoleAssistant, s.opts.Placeholder, nil, chat.StatusPending)
	s.pending++
	s.inflight.Add(1)
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventMessageAppended, Message: &userMsg})
	s.events.Publish(Event{Type: EventMessageAppended, Message: &placeholder})

	q := chat.Question{
		SessionID:   s.opts.SessionID,
		Text:        question,
		Attachments: attachments,
		History:     history,
	}
	go s.resolve(placeholder.ID, q)

	return Submission{User: userMsg.Clone(), Assistant: placeholder.Clone()}, nil
}

// resolve runs the collaborator call and settles the placeholder addressed by id.
func (s *Store) resolve(placeholderID string, q chat.Question) {
	defer s.inflight.Done()

	ctx := s.ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	answer, err := s.call(ctx, placeholderID, q)
	if err != nil {
		log.Printf("[chat] session=%s message=%s answer failed: %v", s.opts.SessionID, placeholderID, err)
		s.settle(placeholderID, chat.StatusErrored, fmt.Sprintf("%s: %s", s.opts.ErrorPrefix, describeFailure(err)))
		return
	}

	s.settle(placeholderID, chat.StatusResolved, answer)
}

func (s *Store) call(ctx context.Context, placeholderID string, q chat.Question) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("answer collaborator panicked: %v", r)
		}
	}()

	if s.answerer == nil {
		return "", errors.New("answer generation is not configured")
	}

	if streamer, ok := s.answerer.(StreamAnswerer); ok {
		return streamer.StreamAnswer(ctx, q, func(delta string) {
			if delta == "" {
				return
			}
			s.events.Publish(Event{Type: EventMessageDelta, MessageID: placeholderID, Delta: delta})
		})
	}

	return s.answerer.Answer(ctx, q)
}

// settle transitions a pending message in place. It is a no-op once the store
// is closed or when the message already settled.
func (s *Store) settle(id string, status chat.Status, content string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	idx, ok := s.index[id]
	if !ok || s.messages[idx].Status != chat.StatusPending {
		s.mu.Unlock()
		return
	}

	msg := &s.messages[idx]
	msg.Status = status
	msg.Content = content
	msg.UpdatedAt = s.now()
	s.pending--
	updated := msg.Clone()
	s.mu.Unlock()

	s.events.Publish(Event{Type: EventMessageUpdated, Message: &updated})
}

// Messages returns a snapshot of the log in display order.
func (s *Store) Messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Message looks up a single message by id.
func (s *Store) Message(id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[id]
	if !ok {
		return chat.Message{}, ErrMessageNotFound
	}
	return s.messages[idx].Clone(), nil
}

// Pending reports whether any placeholder is still waiting for its answer.
func (s *Store) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending > 0
}

// Subscribe returns a feed of log changes.
func (s *Store) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// Subscribers reports how many feeds are currently open.
func (s *Store) Subscribers() int {
	return s.events.Count()
}

// Publish forwards an event that originates outside the log, such as a
// speech state change, to the same subscribers.
func (s *Store) Publish(ev Event) {
	s.events.Publish(ev)
}

// Close tears the store down. In-flight calls are cancelled and their late
// results are discarded; subscribers are released.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.events.Close()
}

// Wait blocks until every background answer call has returned.
func (s *Store) Wait() {
	s.inflight.Wait()
}

func (s *Store) appendLocked(role chat.Role, content string, attachments []string, status chat.Status) chat.Message {
	if attachments == nil {
		attachments = []string{}
	}
	now := s.now()
	msg := chat.Message{
		ID:          newMessageID(),
		Role:        role,
		Content:     content,
		Attachments: attachments,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	return msg.Clone()
}

// historyLocked collects the most recent settled turns, skipping the greeting
// and errored answers.
func (s *Store) historyLocked() []chat.Message {
	history := make([]chat.Message, 0, s.opts.HistoryLimit)
	for i, msg := range s.messages {
		if i == 0 && msg.Role == chat.RoleAssistant {
			continue
		}
		if msg.Status != chat.StatusResolved {
			continue
		}
		history = append(history, msg.Clone())
	}
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}
	return history
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func describeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return err.Error()
	}
}
