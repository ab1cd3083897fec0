package session

import "github.com/mrsingh-rishi/watson/types"

// transitions lists the legal successors of every state.
var transitions = map[types.State][]types.State{
	types.StateIdle:         {types.StateRecording},
	types.StateRecording:    {types.StateStopping, types.StateFailed},
	types.StateStopping:     {types.StateTranscribing, types.StateFailed},
	types.StateTranscribing: {types.StateRecapping, types.StateFailed},
	types.StateRecapping:    {types.StateIdle, types.StateFailed},
	types.StateFailed:       {types.StateIdle},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to types.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
