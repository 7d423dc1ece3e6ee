// Package transcript rebuilds a turn-structured conversation from the stream
// of partial transcription and content deltas of a live session.
package transcript

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Turn is one utterance. Text only grows while IsFinal is false.
type Turn struct {
	ID              string                   `json:"id"`
	Timestamp       time.Time                `json:"timestamp"`
	Role            Role                     `json:"role"`
	Text            string                   `json:"text"`
	IsFinal         bool                     `json:"isFinal"`
	GroundingChunks []types.GroundingChunk   `json:"groundingChunks,omitempty"`
	ToolResponse    *types.GroundedResponse  `json:"toolResponse,omitempty"`
	ToolUseRequest  []types.FunctionCall     `json:"toolUseRequest,omitempty"`
	ToolUseResponse []types.FunctionResponse `json:"toolUseResponse,omitempty"`
}

// Delta is an incremental piece of a turn.
type Delta struct {
	Role    Role
	Text    string
	IsFinal bool
	Chunks  []types.GroundingChunk
}

// ChangeFunc observes a turn after it was appended (index == previous length)
// or updated in place.
type ChangeFunc func(index int, turn Turn)

// Transcript is the ordered turn list plus the held tool attachment and the
// awaiting-tool-response flag. It is safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	turns    []Turn
	awaiting bool

	heldChunks   []types.GroundingChunk
	heldResponse *types.GroundedResponse

	now      func() time.Time
	watchers []ChangeFunc
}

func New() *Transcript {
	return &Transcript{now: time.Now}
}

// OnChange registers fn. Watchers run after the lock is released, in order.
func (t *Transcript) OnChange(fn ChangeFunc) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.watchers = append(t.watchers, fn)
	t.mu.Unlock()
}

// Merge applies a transcription delta: it extends the last turn when that turn
// has the same role and is not final (overwriting finality with the delta's),
// otherwise it appends a new turn.
func (t *Transcript) Merge(d Delta) Turn {
	return t.apply(d, false)
}

// AddContent applies a model content delta. Merging keeps the turn open and
// accumulates grounding chunks; a new agent turn starts non-final.
func (t *Transcript) AddContent(text string, chunks []types.GroundingChunk) (Turn, bool) {
	if text == "" && len(chunks) == 0 {
		return Turn{}, false
	}
	return t.apply(Delta{Role: RoleAgent, Text: text, Chunks: chunks}, true), true
}

func (t *Transcript) apply(d Delta, content bool) Turn {
	t.mu.Lock()
	idx := len(t.turns) - 1
	if idx >= 0 && t.turns[idx].Role == d.Role && !t.turns[idx].IsFinal {
		last := &t.turns[idx]
		last.Text += d.Text
		if !content {
			last.IsFinal = d.IsFinal
		}
		if len(d.Chunks) > 0 {
			last.GroundingChunks = append(last.GroundingChunks, d.Chunks...)
		}
		return t.commit(idx)
	}

	turn := t.newTurnLocked(d.Role, d.Text, d.IsFinal && !content)
	if len(d.Chunks) > 0 {
		turn.GroundingChunks = append([]types.GroundingChunk(nil), d.Chunks...)
	}
	if d.Role == RoleAgent {
		t.attachHeldLocked(&turn)
	}
	t.turns = append(t.turns, turn)
	return t.commit(len(t.turns) - 1)
}

// attachHeldLocked moves the held attachment onto a newly created agent turn.
// Held chunks come before the turn's own.
func (t *Transcript) attachHeldLocked(turn *Turn) {
	if len(t.heldChunks) > 0 {
		turn.GroundingChunks = append(append([]types.GroundingChunk(nil), t.heldChunks...), turn.GroundingChunks...)
		t.heldChunks = nil
	}
	if t.heldResponse != nil {
		turn.ToolResponse = t.heldResponse
		t.heldResponse = nil
	}
}

// AddTurn appends a complete turn regardless of the last one.
func (t *Transcript) AddTurn(role Role, text string, isFinal bool) Turn {
	t.mu.Lock()
	t.turns = append(t.turns, t.newTurnLocked(role, text, isFinal))
	return t.commit(len(t.turns) - 1)
}

// AddSystem appends a final system turn.
func (t *Transcript) AddSystem(text string) Turn {
	return t.AddTurn(RoleSystem, text, true)
}

// ForceFinal marks the last turn final if it is not. Its text is unchanged.
func (t *Transcript) ForceFinal() (Turn, bool) {
	t.mu.Lock()
	idx := len(t.turns) - 1
	if idx < 0 || t.turns[idx].IsFinal {
		t.mu.Unlock()
		return Turn{}, false
	}
	t.turns[idx].IsFinal = true
	return t.commit(idx), true
}

// Hold stores a grounded tool response (and its chunks) for the next newly
// created agent turn. A later Hold replaces an unattached response; held
// chunks are only replaced by a response that carries chunks of its own.
func (t *Transcript) Hold(resp *types.GroundedResponse) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heldResponse = resp
	if chunks := resp.Chunks(); len(chunks) > 0 {
		t.heldChunks = append([]types.GroundingChunk(nil), chunks...)
	}
}

// Held reports whether an attachment is waiting.
func (t *Transcript) Held() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heldResponse != nil || len(t.heldChunks) > 0
}

func (t *Transcript) SetAwaiting(v bool) {
	t.mu.Lock()
	t.awaiting = v
	t.mu.Unlock()
}

// Awaiting reports whether a tool batch is outstanding.
func (t *Transcript) Awaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}

// Clear drops every turn and the held attachment.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
	t.heldChunks = nil
	t.heldResponse = nil
	t.awaiting = false
}

// Turns returns a copy of the transcript.
func (t *Transcript) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.turns))
	for i, turn := range t.turns {
		out[i] = turn.clone()
	}
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}

func (t *Transcript) newTurnLocked(role Role, text string, isFinal bool) Turn {
	return Turn{ID: uuid.NewString(), Timestamp: t.now(), Role: role, Text: text, IsFinal: isFinal}
}

// commit unlocks t and notifies watchers about turn idx.
func (t *Transcript) commit(idx int) Turn {
	turn := t.turns[idx].clone()
	watchers := t.watchers
	t.mu.Unlock()
	for _, fn := range watchers {
		fn(idx, turn)
	}
	return turn
}

func (turn Turn) clone() Turn {
	turn.GroundingChunks = append([]types.GroundingChunk(nil), turn.GroundingChunks...)
	turn.ToolUseRequest = append([]types.FunctionCall(nil), turn.ToolUseRequest...)
	turn.ToolUseResponse = append([]types.FunctionResponse(nil), turn.ToolUseResponse...)
	return turn
}
