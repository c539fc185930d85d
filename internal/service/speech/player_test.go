package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	speechmodel "github.com/zhouzirui/z-counsel/backend/internal/model/speech"
)

type fakeSink struct {
	mu       sync.Mutex
	commands []Command
	sent     chan Command
	err      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(chan Command, 8)}
}

func (s *fakeSink) Send(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.commands = append(s.commands, cmd)
	s.sent <- cmd
	return nil
}

func (s *fakeSink) next(t *testing.T) Command {
	t.Helper()
	select {
	case cmd := <-s.sent:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatalf("no command sent")
		return Command{}
	}
}

type fakeSynth struct {
	lastReq *speechmodel.TTSRequest
	err     error
}

func (f *fakeSynth) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{AudioData: []byte("mp3"), Format: "mp3"}, nil
}

func playAsync(p *RemotePlayer, ctx context.Context, u Utterance) <-chan error {
	result := make(chan error, 1)
	go func() { result <- p.Play(ctx, u) }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Play did not return")
		return nil
	}
}

func TestRemotePlayerWithoutListener(t *testing.T) {
	p := NewRemotePlayer("s1", nil, "")
	err := p.Play(context.Background(), Utterance{MessageID: "m1", Text: "hi"})
	if !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

func TestRemotePlayerCompletesOnEnded(t *testing.T) {
	p := NewRemotePlayer("s1", nil, "")
	sink := newFakeSink()
	p.Attach(sink)

	result := playAsync(p, context.Background(), Utterance{MessageID: "m1", Text: "hi", Language: "ja-JP", Rate: 1})
	cmd := sink.next(t)
	if cmd.Type != CommandSpeak || cmd.MessageID != "m1" || cmd.Audio != "" || cmd.Language != "ja-JP" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	p.Notify(PlaybackEvent{Type: PlaybackStarted, PlaybackID: cmd.PlaybackID})
	p.Notify(PlaybackEvent{Type: PlaybackEnded, PlaybackID: "someone-else"})
	p.Notify(PlaybackEvent{Type: PlaybackEnded, PlaybackID: cmd.PlaybackID})

	if err := waitResult(t, result); err != nil {
		t.Fatalf("Play returned %v", err)
	}
}

func TestRemotePlayerReportsClientError(t *testing.T) {
	p := NewRemotePlayer("s1", nil, "")
	sink := newFakeSink()
	p.Attach(sink)

	result := playAsync(p, context.Background(), Utterance{MessageID: "m1", Text: "hi"})
	cmd := sink.next(t)
	p.Notify(PlaybackEvent{Type: PlaybackFailed, PlaybackID: cmd.PlaybackID, Error: "not-allowed"})

	if err := waitResult(t, result); !errors.Is(err, ErrPlaybackFailed) {
		t.Fatalf("expected ErrPlaybackFailed, got %v", err)
	}
}

func TestRemotePlayerCancelSendsCancel(t *testing.T) {
	p := NewRemotePlayer("s1", nil, "")
	sink := newFakeSink()
	p.Attach(sink)

	ctx, cancel := context.WithCancel(context.Background())
	result := playAsync(p, ctx, Utterance{MessageID: "m1", Text: "hi"})
	speak := sink.next(t)
	cancel()

	if err := waitResult(t, result); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	cancelCmd := sink.next(t)
	if cancelCmd.Type != CommandCancel || cancelCmd.PlaybackID != speak.PlaybackID {
		t.Fatalf("unexpected cancel command: %+v", cancelCmd)
	}
}

func TestRemotePlayerDetachFailsPlayback(t *testing.T) {
	p := NewRemotePlayer("s1", nil, "")
	sink := newFakeSink()
	p.Attach(sink)

	result := playAsync(p, context.Background(), Utterance{MessageID: "m1", Text: "hi"})
	sink.next(t)
	p.Detach(sink)

	if err := waitResult(t, result); err == nil {
		t.Fatalf("expected error after detach")
	}
	if p.Attached() {
		t.Fatalf("expected no attached client")
	}
}

func TestRemotePlayerShipsSynthesizedAudio(t *testing.T) {
	synth := &fakeSynth{}
	p := NewRemotePlayer("s1", synth, "ja_default")
	sink := newFakeSink()
	p.Attach(sink)

	result := playAsync(p, context.Background(), Utterance{MessageID: "m1", Text: "hi", Language: "ja-JP", Rate: 1.1})
	cmd := sink.next(t)

	if cmd.Audio != base64.StdEncoding.EncodeToString([]byte("mp3")) || cmd.Format != "mp3" {
		t.Fatalf("expected synthesized audio, got %+v", cmd)
	}
	if synth.lastReq.Voice != "ja_default" || synth.lastReq.SessionID != "s1" || synth.lastReq.Speed != 1.1 {
		t.Fatalf("unexpected synth request: %+v", synth.lastReq)
	}

	p.Notify(PlaybackEvent{Type: PlaybackEnded, PlaybackID: cmd.PlaybackID})
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Play returned %v", err)
	}
}

func TestRemotePlayerSynthesisError(t *testing.T) {
	p := NewRemotePlayer("s1", &fakeSynth{err: errors.New("quota")}, "")
	sink := newFakeSink()
	p.Attach(sink)

	if err := p.Play(context.Background(), Utterance{MessageID: "m1", Text: "hi"}); err == nil {
		t.Fatalf("expected synthesis error")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.commands) != 0 {
		t.Fatalf("no command should be sent on synthesis failure")
	}
}
