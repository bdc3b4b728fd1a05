package session

import (
	"github.com/bhandras/evalworker/internal/actor"
	"github.com/bhandras/evalworker/internal/wire"
)

// State is the session loop's own bookkeeping. It is separate from the
// evaluator's guarded state and only the loop goroutine writes it.
type State struct {
	// SessionID identifies the session this state belongs to.
	SessionID string

	// Received counts accepted messages; the n-th message gets Seq n.
	Received uint64

	// Invalid counts messages rejected as invalid requests.
	Invalid uint64
}

type messageInput struct {
	actor.InputBase
	req wire.Request
}

type evaluateEffect struct {
	actor.EffectBase
	seq uint64
	req wire.Request
	n   int64
}

type rejectEffect struct {
	actor.EffectBase
	seq    uint64
	req    wire.Request
	reason string
}

// reduce assigns the sequence number and decodes the payload. Evaluation
// itself is an effect so that the reducer stays pure.
func reduce(state State, input actor.Input) (State, []actor.Effect) {
	in, ok := input.(messageInput)
	if !ok {
		return state, nil
	}

	state.Received++
	seq := state.Received

	n, err := in.req.Int()
	if err != nil {
		state.Invalid++
		return state, []actor.Effect{rejectEffect{seq: seq, req: in.req, reason: err.Error()}}
	}
	return state, []actor.Effect{evaluateEffect{seq: seq, req: in.req, n: n}}
}
