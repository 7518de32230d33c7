package session

import (
	"sync"
	"time"

	"github.com/pinnokio/orchestrator/pkg/llm"
)

// Brain holds the conversational state for one thread. All agent runs on a
// thread serialize through Lock, so a user message and an LPT callback for
// the same thread never interleave.
type Brain struct {
	ThreadKey string

	// run serializes agent executions on this thread.
	run sync.Mutex

	mu              sync.Mutex
	history         []llm.Message
	activeLPTs      map[string]struct{}
	lastInputTokens int
	updatedAt       time.Time
}

func newBrain(threadKey string) *Brain {
	return &Brain{
		ThreadKey:  threadKey,
		activeLPTs: make(map[string]struct{}),
	}
}

// Lock acquires the thread's run lock. Callers must Unlock when the agent
// run finishes.
func (b *Brain) Lock() { b.run.Lock() }

// Unlock releases the thread's run lock.
func (b *Brain) Unlock() { b.run.Unlock() }

// History returns a copy of the conversation history.
func (b *Brain) History() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.Message, len(b.history))
	copy(out, b.history)
	return out
}

// Append adds messages to the history.
func (b *Brain) Append(msgs ...llm.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, msgs...)
	b.updatedAt = time.Now()
}

// ReplaceHistory swaps the whole history, used by token budget self-healing.
// The recorded token count belongs to the replaced conversation and resets
// with it.
func (b *Brain) ReplaceHistory(msgs []llm.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = msgs
	b.lastInputTokens = 0
	b.updatedAt = time.Now()
}

// ClearHistory wipes the conversation. Only terminal mission outcomes clear
// history; an in-flight LPT must keep its context for the callback. The
// token count resets so a fresh conversation never inherits the old budget
// pressure.
func (b *Brain) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
	b.lastInputTokens = 0
	b.updatedAt = time.Now()
}

// TrackLPT records a dispatched task awaiting its callback.
func (b *Brain) TrackLPT(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activeLPTs[taskID] = struct{}{}
}

// ResolveLPT removes a task from the active set. Returns false when the task
// was not tracked (e.g. the session was rebuilt after a restart).
func (b *Brain) ResolveLPT(taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.activeLPTs[taskID]
	delete(b.activeLPTs, taskID)
	return ok
}

// ActiveLPTCount returns how many dispatched tasks await callbacks.
func (b *Brain) ActiveLPTCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.activeLPTs)
}

// SetLastInputTokens records the provider-reported input token count of the
// most recent LLM call. This is the primary token budget signal.
func (b *Brain) SetLastInputTokens(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastInputTokens = n
}

// LastInputTokens returns the most recent provider-reported input size, or 0
// when no call has completed yet.
func (b *Brain) LastInputTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastInputTokens
}
