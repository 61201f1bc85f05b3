package lineedit

import "time"

// ChatState mirrors XEP-0085's five values.
type ChatState int

const (
	ChatActive ChatState = iota
	ChatComposing
	ChatPaused
	ChatInactive
	ChatGone
)

func (s ChatState) String() string {
	switch s {
	case ChatComposing:
		return "composing"
	case ChatPaused:
		return "paused"
	case ChatInactive:
		return "inactive"
	case ChatGone:
		return "gone"
	default:
		return "active"
	}
}

// Scheduler abstracts time.AfterFunc so tests can drive the chat-state
// timer without sleeping. The timer is a one-shot rearmed on each
// keystroke, never a poll loop.
type Scheduler interface {
	After(d time.Duration, f func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) After(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// ChatStateTimer implements the XEP-0085 composing/paused rearm logic: a
// keystroke after a period of inactivity fires a "composing" notification
// roughly one second later (debounced, so a burst of keystrokes doesn't
// spam the wire), and six seconds without a further keystroke transitions
// back to "paused".
type ChatStateTimer struct {
	sched    Scheduler
	onChange func(ChatState)

	state          ChatState
	cancelCompose  func()
	cancelPausedAt func()
}

const (
	composeDebounce = 1 * time.Second
	pausedAfter     = 6 * time.Second
)

// NewChatStateTimer returns a timer in the Active state. sched may be nil
// to use real wall-clock timers; onChange is called (from the scheduler's
// goroutine) whenever the state transitions.
func NewChatStateTimer(sched Scheduler, onChange func(ChatState)) *ChatStateTimer {
	if sched == nil {
		sched = realScheduler{}
	}
	return &ChatStateTimer{sched: sched, onChange: onChange, state: ChatActive}
}

// State returns the timer's current state.
func (c *ChatStateTimer) State() ChatState { return c.state }

// OnKeystroke rearms the timer: it cancels any pending paused-transition,
// schedules a fresh one six seconds out, and — if not already
// composing — schedules the debounced composing notification.
func (c *ChatStateTimer) OnKeystroke() {
	if c.cancelPausedAt != nil {
		c.cancelPausedAt()
	}
	if c.state != ChatComposing && c.cancelCompose == nil {
		c.cancelCompose = c.sched.After(composeDebounce, func() {
			c.cancelCompose = nil
			c.setState(ChatComposing)
		})
	}
	c.cancelPausedAt = c.sched.After(pausedAfter, func() {
		c.setState(ChatPaused)
	})
}

// Reset cancels any pending timers and returns to Active, e.g. after the
// line is sent.
func (c *ChatStateTimer) Reset() {
	if c.cancelCompose != nil {
		c.cancelCompose()
		c.cancelCompose = nil
	}
	if c.cancelPausedAt != nil {
		c.cancelPausedAt()
		c.cancelPausedAt = nil
	}
	c.setState(ChatActive)
}

func (c *ChatStateTimer) setState(s ChatState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onChange != nil {
		c.onChange(s)
	}
}
