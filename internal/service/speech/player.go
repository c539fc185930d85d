package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-counsel/backend/internal/model/speech"
)

var (
	// ErrNoListener 当前会话没有连接的播放端
	ErrNoListener = errors.New("no playback client attached")
	// ErrListenerGone 播放过程中客户端断开或被替换
	ErrListenerGone = errors.New("playback client disconnected")
	// ErrPlaybackFailed 客户端回报播放失败
	ErrPlaybackFailed = errors.New("client playback failed")
)

// 播放指令类型
const (
	CommandSpeak  = "speak"
	CommandCancel = "cancel"
)

// 客户端回报的播放事件
const (
	PlaybackStarted = "started"
	PlaybackEnded   = "ended"
	PlaybackFailed  = "error"
)

// Command 下发给浏览器的播放指令。Audio 为空时由浏览器自行合成语音。
type Command struct {
	Type       string  `json:"type"`
	PlaybackID string  `json:"playbackId"`
	MessageID  string  `json:"messageId,omitempty"`
	Text       string  `json:"text,omitempty"`
	Language   string  `json:"language,omitempty"`
	Rate       float32 `json:"rate,omitempty"`
	Audio      string  `json:"audio,omitempty"`
	Format     string  `json:"format,omitempty"`
}

// PlaybackEvent 浏览器回报的播放生命周期事件
type PlaybackEvent struct {
	Type       string `json:"type"`
	PlaybackID string `json:"playbackId"`
	Error      string `json:"error,omitempty"`
}

// Sink delivers commands to one connected client. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(cmd Command) error
}

// Synthesizer turns text into audio on the server.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// RemotePlayer plays utterances on the browser attached to a session. When a
// Synthesizer is configured the audio is produced server-side and shipped
// with the command; otherwise the browser's own speech engine reads the text.
type RemotePlayer struct {
	sessionID string
	synth     Synthesizer
	voice     string

	mu      sync.Mutex
	sink    Sink
	waiters map[string]chan PlaybackEvent
}

// NewRemotePlayer 创建远端播放器，synth 可以为 nil
func NewRemotePlayer(sessionID string, synth Synthesizer, voice string) *RemotePlayer {
	return &RemotePlayer{
		sessionID: sessionID,
		synth:     synth,
		voice:     voice,
		waiters:   make(map[string]chan PlaybackEvent),
	}
}

// Attach makes sink the session's playback client. A previously attached
// client is dropped and its in-progress playback fails.
func (p *RemotePlayer) Attach(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != nil && p.sink != sink {
		p.failWaitersLocked("replaced by a newer client")
	}
	p.sink = sink
}

// Detach removes sink if it is still the attached client.
func (p *RemotePlayer) Detach(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != sink {
		return
	}
	p.sink = nil
	p.failWaitersLocked("client detached")
}

// Attached reports whether a client is listening.
func (p *RemotePlayer) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// Notify routes a client event to the playback waiting for it. Events for
// unknown playbacks are ignored.
func (p *RemotePlayer) Notify(ev PlaybackEvent) {
	p.mu.Lock()
	ch, ok := p.waiters[ev.PlaybackID]
	p.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- ev:
	default:
	}
}

// Play sends the utterance to the client and blocks until it reports the end
// of playback, reports an error, disconnects, or ctx is cancelled.
func (p *RemotePlayer) Play(ctx context.Context, u Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return errors.New("nothing to read aloud")
	}

	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return ErrNoListener
	}

	cmd := Command{
		Type:       CommandSpeak,
		PlaybackID: uuid.NewString(),
		MessageID:  u.MessageID,
		Text:       u.Text,
		Language:   u.Language,
		Rate:       u.Rate,
	}

	if p.synth != nil {
		resp, err := p.synth.SynthesizeSpeech(ctx, &speech.TTSRequest{
			SessionID: p.sessionID,
			Text:      u.Text,
			Voice:     p.voice,
			Speed:     u.Rate,
			Language:  u.Language,
		})
		if err != nil {
			return fmt.Errorf("synthesize message %s: %w", u.MessageID, err)
		}
		cmd.Audio = base64.StdEncoding.EncodeToString(resp.AudioData)
		cmd.Format = resp.Format
	}

	events := make(chan PlaybackEvent, 4)
	p.mu.Lock()
	if p.sink != sink {
		p.mu.Unlock()
		return ErrListenerGone
	}
	p.waiters[cmd.PlaybackID] = events
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.waiters, cmd.PlaybackID)
		p.mu.Unlock()
	}()

	if err := sink.Send(cmd); err != nil {
		return fmt.Errorf("send speak command: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if err := sink.Send(Command{Type: CommandCancel, PlaybackID: cmd.PlaybackID, MessageID: u.MessageID}); err != nil {
				log.Printf("[speech] session=%s failed to send cancel: %v", p.sessionID, err)
			}
			return ctx.Err()
		case ev := <-events:
			switch ev.Type {
			case PlaybackStarted:
				continue
			case PlaybackEnded:
				return nil
			default:
				if ev.Error == "" {
					ev.Error = "unknown client error"
				}
				return fmt.Errorf("%w: %s", ErrPlaybackFailed, ev.Error)
			}
		}
	}
}

func (p *RemotePlayer) failWaitersLocked(reason string) {
	for id, ch := range p.waiters {
		select {
		case ch <- PlaybackEvent{Type: PlaybackFailed, PlaybackID: id, Error: reason}:
		default:
		}
	}
}
