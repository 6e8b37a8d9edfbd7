// Package prompter injects a system feedback request into a thread after
// a period of user inactivity following a completed answer.
package prompter

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bc-assistant/core/internal/session"
)

const (
	// DefaultArmWindow is the inactivity window after a completed answer
	// before a feedback prompt is injected.
	DefaultArmWindow = 90 * time.Second
	// DefaultFollowUpWindow is the inactivity window after the prompt's
	// own follow-up UI is shown.
	DefaultFollowUpWindow = 20 * time.Second
)

// Config carries the prompter's two inactivity windows. Zero values fall
// back to the defaults.
type Config struct {
	ArmWindow      time.Duration
	FollowUpWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.ArmWindow <= 0 {
		c.ArmWindow = DefaultArmWindow
	}
	if c.FollowUpWindow <= 0 {
		c.FollowUpWindow = DefaultFollowUpWindow
	}
	return c
}

// Prompter observes the session store and arms an inactivity timer when
// all preconditions hold for the current thread: generation idle, thread
// unrated, at least one question/answer pair, and no feedback prompt
// present yet. Qualifying user interactions reset the timer; losing a
// precondition disarms it. When the timer fires, a system feedback
// message is appended through the store and a second, shorter follow-up
// window begins. Stop tears down all timers and the store subscription.
type Prompter struct {
	store *session.Store
	cfg   Config
	log   *zerolog.Logger

	mu           sync.Mutex
	stopped      bool
	armed        bool
	armThread    int64
	armSeq       uint64
	armTimer     *time.Timer
	followArmed  bool
	followThread int64
	followSeq    uint64
	followTimer  *time.Timer

	unsubscribe func()
}

func New(store *session.Store, cfg Config, logger *zerolog.Logger) *Prompter {
	compLog := logger.With().Str("component", "FeedbackPrompter").Logger()
	return &Prompter{
		store: store,
		cfg:   cfg.withDefaults(),
		log:   &compLog,
	}
}

// Start subscribes to store changes and evaluates the current state once.
func (p *Prompter) Start() {
	p.unsubscribe = p.store.Subscribe(p.evaluate)
	p.evaluate(p.store.Snapshot())
}

// Stop cancels all timers and detaches from the store. Safe to call more
// than once; after Stop no timer can fire.
func (p *Prompter) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.disarmLocked()
	p.cancelFollowUpLocked()
	p.mu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// RecordInteraction resets whichever inactivity window is running. The
// UI calls this on clicks inside the assistant surface and on input
// typing. Rescheduling advances the sequence, so a timer callback that
// already fired but has not taken the lock yet is discarded instead of
// prompting right after the interaction.
func (p *Prompter) RecordInteraction() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		p.armTimer.Stop()
		p.armTimer = p.scheduleFire(p.cfg.ArmWindow)
	}
	if p.followArmed {
		p.followTimer.Stop()
		p.followTimer = p.scheduleFollowUp(p.cfg.FollowUpWindow)
	}
}

// scheduleFire must be called with p.mu held.
func (p *Prompter) scheduleFire(window time.Duration) *time.Timer {
	p.armSeq++
	seq := p.armSeq
	return time.AfterFunc(window, func() { p.fire(seq) })
}

// scheduleFollowUp must be called with p.mu held.
func (p *Prompter) scheduleFollowUp(window time.Duration) *time.Timer {
	p.followSeq++
	seq := p.followSeq
	return time.AfterFunc(window, func() { p.fireFollowUp(seq) })
}

// evaluate re-checks the arming preconditions on every state change.
func (p *Prompter) evaluate(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	// Once feedback is given, the follow-up window stops listening too.
	if p.followArmed {
		if thread, ok := st.Thread(p.followThread); ok && thread.Rating != nil {
			p.cancelFollowUpLocked()
		}
	}

	threadID, ok := eligibleThread(st)
	if !ok {
		p.disarmLocked()
		return
	}
	if p.armed && p.armThread == threadID {
		return
	}
	p.disarmLocked()
	p.armed = true
	p.armThread = threadID
	p.armTimer = p.scheduleFire(p.cfg.ArmWindow)
	p.log.Debug().Int64("thread_id", threadID).Dur("window", p.cfg.ArmWindow).Msg("inactivity timer armed")
}

func (p *Prompter) disarmLocked() {
	if p.armed {
		p.armTimer.Stop()
		p.armed = false
	}
}

func (p *Prompter) cancelFollowUpLocked() {
	if p.followArmed {
		p.followTimer.Stop()
		p.followArmed = false
	}
}

// fire runs when the arm window elapses with no interaction. A stale
// sequence means an interaction rescheduled the window between this
// callback firing and taking the lock; nothing may be appended then.
// The append itself is idempotent at the store level, so a late fire
// after other conditions changed is harmless.
func (p *Prompter) fire(seq uint64) {
	p.mu.Lock()
	if p.stopped || !p.armed || seq != p.armSeq {
		p.mu.Unlock()
		return
	}
	p.armed = false
	threadID := p.armThread
	p.mu.Unlock()

	if !p.store.AppendFeedbackPrompt(threadID) {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.followArmed = true
	p.followThread = threadID
	p.followTimer = p.scheduleFollowUp(p.cfg.FollowUpWindow)
	p.mu.Unlock()
}

// fireFollowUp runs when the follow-up window elapses in silence, with
// the same stale-sequence guard as fire. The effect is the same guarded
// append; the existing prompt makes it a no-op, which prevents
// recursion.
func (p *Prompter) fireFollowUp(seq uint64) {
	p.mu.Lock()
	if p.stopped || !p.followArmed || seq != p.followSeq {
		p.mu.Unlock()
		return
	}
	p.followArmed = false
	threadID := p.followThread
	p.mu.Unlock()

	if p.store.AppendFeedbackPrompt(threadID) {
		p.log.Debug().Int64("thread_id", threadID).Msg("follow-up window elapsed")
	}
}

// eligibleThread returns the current thread id when every arming
// precondition holds: generation idle, a current thread set, the thread
// unrated, at least two messages (one question/answer pair), and no
// feedback prompt present yet.
func eligibleThread(st session.State) (int64, bool) {
	if st.IsGenerating || st.CurrentThreadID == nil {
		return 0, false
	}
	threadID := *st.CurrentThreadID
	thread, ok := st.Thread(threadID)
	if !ok || thread.Rating != nil {
		return 0, false
	}
	if len(st.CurrentThreadMessages) < 2 {
		return 0, false
	}
	if st.HasFeedbackPrompt(threadID) {
		return 0, false
	}
	return threadID, true
}
