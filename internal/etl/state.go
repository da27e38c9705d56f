package etl

import (
	"fmt"
	"time"
)

// State is the phase of a run.
type State int

const (
	Extracting State = iota
	Transforming
	Loading
	Completed
	Failed
)

var stateNames = [...]string{
	Extracting:   "extracting",
	Transforming: "transforming",
	Loading:      "loading",
	Completed:    "completed",
	Failed:       "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// A run only fails before it starts writing. Once Loading begins, batch
// failures are recorded in the outcome and the run still completes.
var next = map[State][]State{
	Extracting:   {Transforming, Failed},
	Transforming: {Loading, Failed},
	Loading:      {Completed},
}

// Transition is one recorded state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

type machine struct {
	state State
	log   []Transition
	now   func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: Extracting, now: now}
}

// to moves the machine to s. An illegal transition is a bug in the runner.
func (m *machine) to(s State) {
	for _, ok := range next[m.state] {
		if ok == s {
			m.log = append(m.log, Transition{From: m.state, To: s, At: m.now()})
			m.state = s
			return
		}
	}
	panic(fmt.Sprintf("etl: illegal transition %s -> %s", m.state, s))
}
