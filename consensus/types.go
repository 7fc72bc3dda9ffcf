package consensus

import (
	"fmt"
	"math/bits"
	"strings"
)

// Estimate is a binary value or Bot, the "no agreed value" marker.
type Estimate int32

const (
	Zero Estimate = 0
	One  Estimate = 1
	Bot  Estimate = 2
)

func (e Estimate) String() string {
	switch e {
	case Zero:
		return "zero"
	case One:
		return "one"
	case Bot:
		return "bot"
	}
	return fmt.Sprintf("estimate(%d)", int32(e))
}

// Valid reports whether e is one of Zero, One, Bot.
func (e Estimate) Valid() bool {
	return e == Zero || e == One || e == Bot
}

// Binary reports whether e is Zero or One.
func (e Estimate) Binary() bool {
	return e == Zero || e == One
}

// EstimateFromBool maps a coin bit to an estimate.
func EstimateFromBool(b bool) Estimate {
	if b {
		return One
	}
	return Zero
}

// Stage is one of the two SBV-broadcasts of an ABA round.
type Stage int32

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

func (s Stage) Valid() bool {
	return s == Stage1 || s == Stage2
}

// View is a set of estimates, bit e set when e is a member. It is also
// used for bin_values.
type View uint32

const viewMask = View(1<<Zero | 1<<One | 1<<Bot)

// ViewOf builds a view from its members.
func ViewOf(es ...Estimate) View {
	var v View
	for _, e := range es {
		v = v.Add(e)
	}
	return v
}

func (v View) Add(e Estimate) View {
	return v | 1<<uint(e)
}

func (v View) Contains(e Estimate) bool {
	return v&(1<<uint(e)) != 0
}

func (v View) Len() int {
	return bits.OnesCount32(uint32(v))
}

func (v View) Empty() bool {
	return v == 0
}

// SubsetOf reports whether every member of v is in o.
func (v View) SubsetOf(o View) bool {
	return v&^o == 0
}

// Wellformed reports whether v only holds known estimates.
func (v View) Wellformed() bool {
	return v&^viewMask == 0
}

// Values lists the members in Zero, One, Bot order.
func (v View) Values() []Estimate {
	var out []Estimate
	for _, e := range []Estimate{Zero, One, Bot} {
		if v.Contains(e) {
			out = append(out, e)
		}
	}
	return out
}

// Single returns the only member of a singleton view.
func (v View) Single() (Estimate, bool) {
	if v.Len() != 1 {
		return 0, false
	}
	return v.Values()[0], true
}

func (v View) String() string {
	vals := v.Values()
	parts := make([]string, len(vals))
	for i, e := range vals {
		parts[i] = e.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// constructView unions, in party order, the reported views that are
// subsets of bin, stopping at quorum contributors. It reports false when
// fewer than quorum views qualify.
func constructView(bin View, views []View, quorum int) (View, bool) {
	if bin.Len() > 2 {
		panic(fmt.Sprintf("bin_values %s holds more than two estimates", bin))
	}
	var acc View
	count := 0
	for _, v := range views {
		if v.Empty() || !v.SubsetOf(bin) {
			continue
		}
		acc |= v
		count++
		if count == quorum {
			return acc, true
		}
	}
	return 0, false
}
