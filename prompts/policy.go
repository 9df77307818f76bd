package prompts

import "fmt"

// policyKind distinguishes the caption-generation strategies
type policyKind int

const (
	fixedPolicy policyKind = iota
	randomizedPolicy
)

// Policy is the rule for generating the text captions paired with images
// during training. It is a tagged variant validated at construction: the
// fixed policy always produces exactly one caption per class, while the
// randomized policy samples a configured number of captions per class.
type Policy struct {
	kind     policyKind
	captions int
}

// FixedCaptions returns the policy producing one deterministic caption per
// class ("regular_captions" in the original configuration vocabulary)
func FixedCaptions() Policy {
	return Policy{kind: fixedPolicy, captions: 1}
}

// RandomizedCaptions returns the policy sampling n captions per class
func RandomizedCaptions(n int) (Policy, error) {
	if n < 1 {
		return Policy{}, fmt.Errorf("randomized caption policy requires at least 1 caption per class, got %d", n)
	}
	return Policy{kind: randomizedPolicy, captions: n}, nil
}

// ParsePolicy validates an option string and caption count pair. This is the
// run-start precondition check: an invalid combination fails here, before
// any epoch runs.
func ParsePolicy(option string, numberOfCaptions int) (Policy, error) {
	switch option {
	case "regular_captions":
		if numberOfCaptions != 1 {
			return Policy{}, fmt.Errorf("option %q requires exactly 1 caption per class, got %d", option, numberOfCaptions)
		}
		return FixedCaptions(), nil
	case "random_captions":
		return RandomizedCaptions(numberOfCaptions)
	default:
		return Policy{}, fmt.Errorf("unknown caption option %q", option)
	}
}

// IsRandomized reports whether the policy samples captions
func (p Policy) IsRandomized() bool {
	return p.kind == randomizedPolicy
}

// CaptionsPerClass returns the number of captions generated per class
func (p Policy) CaptionsPerClass() int {
	return p.captions
}

func (p Policy) String() string {
	if p.kind == randomizedPolicy {
		return fmt.Sprintf("random_captions(%d)", p.captions)
	}
	return "regular_captions"
}
