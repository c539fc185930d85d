package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-counsel/backend/internal/model/chat"
)

// gatedAnswerer blocks each call until the test releases it with a result.
type gatedAnswerer struct {
	mu        sync.Mutex
	questions []chat.Question
	results   chan result
	started   chan struct{}
}

type result struct {
	answer string
	err    error
}

func newGatedAnswerer() *gatedAnswerer {
	return &gatedAnswerer{
		results: make(chan result, 4),
		started: make(chan struct{}, 4),
	}
}

func (g *gatedAnswerer) Answer(ctx context.Context, q chat.Question) (string, error) {
	g.mu.Lock()
	g.questions = append(g.questions, q)
	g.mu.Unlock()
	g.started <- struct{}{}

	select {
	case r := <-g.results:
		return r.answer, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedAnswerer) lastQuestion(t *testing.T) chat.Question {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.questions) == 0 {
		t.Fatal("answerer was never called")
	}
	return g.questions[len(g.questions)-1]
}

func (g *gatedAnswerer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("answerer was not called")
	}
}

type answerFunc func(ctx context.Context, q chat.Question) (string, error)

func (f answerFunc) Answer(ctx context.Context, q chat.Question) (string, error) {
	return f(ctx, q)
}

func newTestStore(answerer Answerer, mutate ...func(*Options)) *Store {
	opts := Options{
		SessionID:   "session-1",
		Greeting:    "hello",
		Placeholder: "thinking...",
		ErrorPrefix: "error occurred",
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	store := NewStore(answerer, opts)
	store.Seed()
	return store
}

func TestSeedAppendsGreetingOnce(t *testing.T) {
	store := newTestStore(nil)
	store.Seed()

	messages := store.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleAssistant || messages[0].Content != "hello" {
		t.Fatalf("unexpected greeting: %+v", messages[0])
	}
	if messages[0].Status != chat.StatusResolved {
		t.Fatalf("greeting should be resolved, got %s", messages[0].Status)
	}
}

func TestSubmitResolvesPlaceholderInPlace(t *testing.T) {
	answerer := newGatedAnswerer()
	store := newTestStore(answerer)

	sub, err := store.Submit("What is X?", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	messages := store.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[1].Role != chat.RoleUser || messages[1].Content != "What is X?" || messages[1].Status != chat.StatusResolved {
		t.Fatalf("unexpected user message: %+v", messages[1])
	}
	if messages[2].ID != sub.Assistant.ID || messages[2].Status != chat.StatusPending || messages[2].Content != "thinking..." {
		t.Fatalf("unexpected placeholder: %+v", messages[2])
	}
	if !store.Pending() {
		t.Fatal("expected store to be pending")
	}

	answerer.waitStarted(t)
	answerer.results <- result{answer: "X is Y."}
	store.Wait()

	got, err := store.Message(sub.Assistant.ID)
	if err != nil {
		t.Fatalf("Message err: %v", err)
	}
	if got.Status != chat.StatusResolved || got.Content != "X is Y." {
		t.Fatalf("unexpected resolved message: %+v", got)
	}
	if len(store.Messages()) != 3 {
		t.Fatal("resolution must not change log length")
	}
	if store.Pending() {
		t.Fatal("expected store to be idle after resolution")
	}
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	called := false
	store := newTestStore(answerFunc(func(context.Context, chat.Question) (string, error) {
		called = true
		return "", nil
	}))

	for _, question := range []string{"", "   ", "\n\t"} {
		if _, err := store.Submit(question, nil); !errors.Is(err, ErrEmptySubmission) {
			t.Fatalf("Submit(%q) err = %v, want ErrEmptySubmission", question, err)
		}
	}

	store.Wait()
	if len(store.Messages()) != 1 {
		t.Fatalf("blank submissions must not mutate the log, got %d messages", len(store.Messages()))
	}
	if called {
		t.Fatal("collaborator must not be called for blank input")
	}
}

func TestSubmitAcceptsAttachmentWithoutText(t *testing.T) {
	answerer := newGatedAnswerer()
	store := newTestStore(answerer)

	files := []chat.Attachment{{Name: "fileA.pdf", MIMEType: "application/pdf", Data: []byte("%PDF-1.4")}}
	sub, err := store.Submit("", files)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	if sub.User.Content != "" {
		t.Fatalf("expected empty question content, got %q", sub.User.Content)
	}
	if len(sub.User.Attachments) != 1 || sub.User.Attachments[0] != "fileA.pdf" {
		t.Fatalf("unexpected attachments: %v", sub.User.Attachments)
	}
	if len(sub.Assistant.Attachments) != 0 {
		t.Fatal("assistant messages never carry attachments")
	}
	if len(store.Messages()) != 3 {
		t.Fatalf("expected log to grow by 2, got %d", len(store.Messages()))
	}

	answerer.waitStarted(t)
	q := answerer.lastQuestion(t)
	if len(q.Attachments) != 1 || string(q.Attachments[0].Data) != "%PDF-1.4" {
		t.Fatalf("attachment content not forwarded: %+v", q.Attachments)
	}
	answerer.results <- result{answer: "summary"}
	store.Wait()
}

func TestBackendFailureBecomesErroredMessage(t *testing.T) {
	answerer := newGatedAnswerer()
	store := newTestStore(answerer)

	sub, err := store.Submit("question", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	answerer.waitStarted(t)
	answerer.results <- result{err: errors.New("timeout")}
	store.Wait()

	got, _ := store.Message(sub.Assistant.ID)
	if got.Status != chat.StatusErrored {
		t.Fatalf("expected errored status, got %s", got.Status)
	}
	if !strings.Contains(got.Content, "timeout") || !strings.HasPrefix(got.Content, "error occurred") {
		t.Fatalf("unexpected error content %q", got.Content)
	}
	if len(store.Messages()) != 3 {
		t.Fatal("errored entries must stay in the log")
	}
}

func TestDeadlineIsReportedAsTimeout(t *testing.T) {
	store := newTestStore(answerFunc(func(ctx context.Context, _ chat.Question) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), func(o *Options) { o.Timeout = 20 * time.Millisecond })

	sub, err := store.Submit("slow", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	store.Wait()

	got, _ := store.Message(sub.Assistant.ID)
	if got.Status != chat.StatusErrored || !strings.Contains(got.Content, "timeout") {
		t.Fatalf("unexpected message after deadline: %+v", got)
	}
}

func TestPanickingCollaboratorIsContained(t *testing.T) {
	store := newTestStore(answerFunc(func(context.Context, chat.Question) (string, error) {
		panic("boom")
	}))

	sub, err := store.Submit("q", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	store.Wait()

	got, _ := store.Message(sub.Assistant.ID)
	if got.Status != chat.StatusErrored || !strings.Contains(got.Content, "boom") {
		t.Fatalf("unexpected message after panic: %+v", got)
	}
}

func TestSubmitIsSingleFlightByDefault(t *testing.T) {
	answerer := newGatedAnswerer()
	store := newTestStore(answerer)

	if _, err := store.Submit("first", nil); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if _, err := store.Submit("second", nil); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	if len(store.Messages()) != 3 {
		t.Fatalf("rejected submission must not append, got %d", len(store.Messages()))
	}

	answerer.waitStarted(t)
	answerer.results <- result{answer: "done"}
	store.Wait()

	if _, err := store.Submit("second", nil); err != nil {
		t.Fatalf("Submit after settle err: %v", err)
	}
	answerer.waitStarted(t)
	answerer.results <- result{answer: "done again"}
	store.Wait()

	if len(store.Messages()) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(store.Messages()))
	}
}

func TestConcurrentSubmissionsResolveById(t *testing.T) {
	var mu sync.Mutex
	gates := map[string]chan string{
		"first":  make(chan string, 1),
		"second": make(chan string, 1),
	}
	store := newTestStore(answerFunc(func(ctx context.Context, q chat.Question) (string, error) {
		mu.Lock()
		gate := gates[q.Text]
		mu.Unlock()
		return <-gate, nil
	}), func(o *Options) { o.AllowConcurrent = true })

	first, err := store.Submit("first", nil)
	if err != nil {
		t.Fatalf("Submit first err: %v", err)
	}
	second, err := store.Submit("second", nil)
	if err != nil {
		t.Fatalf("Submit second err: %v", err)
	}

	gates["second"] <- "answer two"
	gates["first"] <- "answer one"
	store.Wait()

	a, _ := store.Message(first.Assistant.ID)
	b, _ := store.Message(second.Assistant.ID)
	if a.Content != "answer one" || b.Content != "answer two" {
		t.Fatalf("answers crossed: first=%q second=%q", a.Content, b.Content)
	}

	roles := []chat.Role{chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant, chat.RoleUser, chat.RoleAssistant}
	for i, msg := range store.Messages() {
		if msg.Role != roles[i] {
			t.Fatalf("message %d role = %s, want %s", i, msg.Role, roles[i])
		}
	}
}

func TestCloseDiscardsLateResolution(t *testing.T) {
	answerer := newGatedAnswerer()
	store := newTestStore(answerer)

	sub, err := store.Submit("question", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	answerer.waitStarted(t)

	store.Close()
	store.Wait()

	got, _ := store.Message(sub.Assistant.ID)
	if got.Status != chat.StatusPending {
		t.Fatalf("expected placeholder untouched after close, got %s", got.Status)
	}
	if _, err := store.Submit("again", nil); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestHistoryExcludesGreetingAndErrors(t *testing.T) {
	answers := []result{{answer: "a1"}, {err: errors.New("down")}, {answer: "a3"}}
	var seen []chat.Question
	var mu sync.Mutex
	store := newTestStore(answerFunc(func(_ context.Context, q chat.Question) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := answers[len(seen)]
		seen = append(seen, q)
		return r.answer, r.err
	}))

	for _, q := range []string{"q1", "q2", "q3"} {
		if _, err := store.Submit(q, nil); err != nil {
			t.Fatalf("Submit(%s) err: %v", q, err)
		}
		store.Wait()
	}

	last := seen[len(seen)-1].History
	var contents []string
	for _, msg := range last {
		contents = append(contents, msg.Content)
	}
	if got := strings.Join(contents, ","); got != "q1,a1,q2" {
		t.Fatalf("unexpected history %q", got)
	}
	if seen[len(seen)-1].SessionID != "session-1" {
		t.Fatalf("session id not forwarded")
	}
}

type streamingAnswerer struct{}

func (streamingAnswerer) Answer(context.Context, chat.Question) (string, error) {
	return "", errors.New("should stream")
}

func (streamingAnswerer) StreamAnswer(_ context.Context, _ chat.Question, onDelta func(string)) (string, error) {
	onDelta("X is ")
	onDelta("Y.")
	return "X is Y.", nil
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	store := NewStore(streamingAnswerer{}, Options{Greeting: "hi", Placeholder: "..."})
	events, cancel := store.Subscribe()
	defer cancel()

	store.Seed()
	sub, err := store.Submit("What is X?", nil)
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	store.Wait()

	var types []EventType
	var deltas []string
	timeout := time.After(2 * time.Second)
	for len(types) < 6 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			if ev.Type == EventMessageDelta {
				if ev.MessageID != sub.Assistant.ID {
					t.Fatalf("delta addressed to %s, want %s", ev.MessageID, sub.Assistant.ID)
				}
				deltas = append(deltas, ev.Delta)
			}
		case <-timeout:
			t.Fatalf("timed out, got events %v", types)
		}
	}

	want := []EventType{EventMessageAppended, EventMessageAppended, EventMessageAppended, EventMessageDelta, EventMessageDelta, EventMessageUpdated}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (all: %v)", i, types[i], want[i], types)
		}
	}
	if strings.Join(deltas, "") != "X is Y." {
		t.Fatalf("unexpected deltas %v", deltas)
	}

	store.Close()
	if _, ok := <-events; ok {
		t.Fatal("expected subscription to be closed after Close")
	}
}

func TestSubscribersCountsOpenFeeds(t *testing.T) {
	store := NewStore(nil, Options{})

	_, cancelA := store.Subscribe()
	_, cancelB := store.Subscribe()
	if got := store.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	cancelA()
	cancelA()
	if got := store.Subscribers(); got != 1 {
		t.Fatalf("Subscribers() after cancel = %d, want 1", got)
	}

	store.Close()
	if got := store.Subscribers(); got != 0 {
		t.Fatalf("Subscribers() after Close = %d, want 0", got)
	}
	cancelB()
}
