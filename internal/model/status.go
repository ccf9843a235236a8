package model

import "fmt"

const (
	StateUnprocessed = "unprocessed"
	StateScripted    = "scripted"
	StateCompleted   = "completed"
)

var allowedTransitions = map[string]map[string]bool{
	"": {
		StateUnprocessed: true,
	},
	StateUnprocessed: {
		StateUnprocessed: true,
		StateScripted:    true,
	},
	StateScripted: {
		StateScripted:  true, // regenerated script overwrites columns 2 and 3
		StateCompleted: true,
	},
	StateCompleted: {
		StateCompleted: true, // re-marking refreshes the completion date
	},
}

type TransitionError struct {
	Row  int
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid record state transition: %q -> %q (row=%d)", e.From, e.To, e.Row)
}

func IsKnownState(state string) bool {
	_, ok := allowedTransitions[state]
	return ok
}

func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// DeriveState reads a record's lifecycle position from the columns that are
// populated. A completion flag wins over everything else.
func DeriveState(rec Record) string {
	switch {
	case rec.Flag != "":
		return StateCompleted
	case rec.Script != "" || rec.Prompts != "":
		return StateScripted
	default:
		return StateUnprocessed
	}
}

func TransitionRecord(rec *Record, toState string) error {
	from := rec.State
	if from == "" {
		from = DeriveState(*rec)
	}
	if !CanTransition(from, toState) {
		return &TransitionError{Row: rec.Row, From: from, To: toState}
	}
	rec.State = toState
	return nil
}
