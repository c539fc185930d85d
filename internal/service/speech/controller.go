package speech

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Utterance is one read-aloud request bound to a message.
type Utterance struct {
	MessageID string
	Text      string
	Language  string
	Rate      float32
}

// Player performs playback. Play blocks until the utterance ends naturally or
// fails; cancelling ctx must stop playback immediately.
type Player interface {
	Play(ctx context.Context, u Utterance) error
}

// ErrPlayerNotReady is returned by TryToggle when a new playback would have
// nowhere to go.
var ErrPlayerNotReady = errors.New("speech player is not ready")

// Controller reads one message aloud at a time. Its state is either idle or
// playing a single message id.
type Controller struct {
	player   Player
	language string
	rate     float32
	onChange func(activeID string)
	ready    func() bool

	mu     sync.Mutex
	active string
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithVoice sets the language tag and rate passed with every utterance.
func WithVoice(language string, rate float32) ControllerOption {
	return func(c *Controller) {
		c.language = language
		c.rate = rate
	}
}

// WithStateListener registers a callback invoked after every state change
// with the active message id, or "" when idle. It runs while the controller
// lock is held, so it must not call back into the Controller.
func WithStateListener(fn func(activeID string)) ControllerOption {
	return func(c *Controller) {
		c.onChange = fn
	}
}

// WithReadiness makes TryToggle refuse to start playback while ready returns
// false. Stopping the active message is always allowed.
func WithReadiness(ready func() bool) ControllerOption {
	return func(c *Controller) {
		c.ready = ready
	}
}

// NewController 创建朗读控制器
func NewController(player Player, opts ...ControllerOption) *Controller {
	c := &Controller{player: player, rate: 1.0}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Toggle starts reading text for messageID, or stops it when messageID is the
// one already playing. A different active message is fully stopped first.
// It returns the active message id after the call.
func (c *Controller) Toggle(text, messageID string) string {
	active, _ := c.TryToggle(text, messageID)
	return active
}

// TryToggle is Toggle with the readiness check done under the same lock. When
// the player is not ready and messageID is not the active one, nothing changes
// and ErrPlayerNotReady is returned.
func (c *Controller) TryToggle(text, messageID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", nil
	}

	wasActive := c.active
	if wasActive != messageID && c.ready != nil && !c.ready() {
		return wasActive, ErrPlayerNotReady
	}

	c.stopLocked()

	if wasActive == messageID {
		c.notifyLocked()
		return "", nil
	}

	c.startLocked(text, messageID)
	c.notifyLocked()
	return messageID, nil
}

// Active returns the message id being read aloud, or "".
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stop ends any playback and returns to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.active
	c.stopLocked()
	if wasActive != "" {
		c.notifyLocked()
	}
}

// Close stops playback and refuses further toggles. Safe to call repeatedly.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
}

// stopLocked cancels the running playback and waits for its goroutine to
// finish. The goroutine never takes c.mu before closing done.
func (c *Controller) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done

	c.gen++
	c.cancel = nil
	c.done = nil
	c.active = ""
}

func (c *Controller) startLocked(text, messageID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.gen++
	gen := c.gen
	c.active = messageID
	c.cancel = cancel
	c.done = done

	u := Utterance{MessageID: messageID, Text: text, Language: c.language, Rate: c.rate}
	go c.run(ctx, gen, done, u)
}

func (c *Controller) run(ctx context.Context, gen uint64, done chan struct{}, u Utterance) {
	err := c.play(ctx, u)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[speech] playback of message %s failed: %v", u.MessageID, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// Superseded by Toggle/Stop, which already reset the state.
		c.mu.Unlock()
		return
	}
	c.gen++
	c.cancel()
	c.cancel = nil
	c.done = nil
	c.active = ""
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *Controller) play(ctx context.Context, u Utterance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("player panicked")
		}
	}()
	if c.player == nil {
		return errors.New("no speech player configured")
	}
	return c.player.Play(ctx, u)
}

func (c *Controller) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.active)
	}
}
