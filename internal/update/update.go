// Package update defines the rule that integrates worker deltas into the
// canonical parameter set, and the rules shipped with the trainer.
//
// A Rule combines the current parameters with one incoming delta to produce
// the next parameters. Rules may keep accumulator state between calls (the
// momentum rule keeps a velocity buffer); that state lives for one training
// run and is owned by whoever owns the rule, always behind the parameter
// store's lock.
package update

import (
	"fmt"

	"github.com/FranNetty/dist-keras/internal/tensor"
)

// Rule names accepted by New.
const (
	RuleAdditive = "additive"
	RuleMomentum = "momentum"
)

// Rule integrates one delta into the current parameter set.
// Combine must validate shapes before touching any state: on error the
// returned set is nil and both the inputs and the rule's own accumulator
// state are unchanged. A replacement delta installs its weights verbatim,
// which is how the first worker seeds a server that started empty.
type Rule interface {
	Combine(current tensor.ParameterSet, delta tensor.Delta) (tensor.ParameterSet, error)
	Name() string
}

// Spec describes a rule by name plus its numeric knobs. It doubles as the
// optimizer descriptor handed to workers for compiling their local models.
type Spec struct {
	Name         string  `yaml:"name" json:"name"`
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	Momentum     float64 `yaml:"momentum" json:"momentum"`
}

// New builds a rule from its spec. Unknown rule names are an error.
func New(spec Spec) (Rule, error) {
	switch spec.Name {
	case RuleAdditive:
		return NewAdditive(), nil
	case RuleMomentum:
		return NewMomentum(spec.Momentum), nil
	default:
		return nil, fmt.Errorf("unknown update rule %q", spec.Name)
	}
}

// Additive applies deltas by plain elementwise addition.
type Additive struct{}

// NewAdditive creates the additive rule.
func NewAdditive() *Additive {
	return &Additive{}
}

func (a *Additive) Name() string { return RuleAdditive }

// Combine returns current + delta, or the delta's weights verbatim for a
// replacement delta.
func (a *Additive) Combine(current tensor.ParameterSet, delta tensor.Delta) (tensor.ParameterSet, error) {
	if delta.Replace {
		return delta.Weights.Clone(), nil
	}
	return tensor.Add(current, delta.Weights)
}

// Momentum accumulates deltas into a velocity buffer before applying them,
// smoothing the integration of updates arriving from many workers.
//
// On each difference delta: v = mu*v + delta, new = current + v.
// A replacement delta installs its weights and resets the velocity.
type Momentum struct {
	mu       float64
	velocity tensor.ParameterSet
}

// NewMomentum creates a momentum rule with the given decay factor.
func NewMomentum(mu float64) *Momentum {
	return &Momentum{mu: mu}
}

func (m *Momentum) Name() string { return RuleMomentum }

// Combine folds the delta into the velocity and applies the velocity to the
// current set. The velocity is committed only when the whole application
// succeeds, so a rejected delta leaves the rule state untouched.
func (m *Momentum) Combine(current tensor.ParameterSet, delta tensor.Delta) (tensor.ParameterSet, error) {
	if delta.Replace {
		m.velocity = nil
		return delta.Weights.Clone(), nil
	}

	prev := m.velocity
	if prev == nil {
		prev = tensor.ZerosLike(delta.Weights)
	}

	next, err := tensor.Add(tensor.Scale(prev, m.mu), delta.Weights)
	if err != nil {
		return nil, fmt.Errorf("momentum velocity: %w", err)
	}
	out, err := tensor.Add(current, next)
	if err != nil {
		return nil, err
	}

	m.velocity = next
	return out, nil
}
