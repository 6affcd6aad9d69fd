// Package classify turns raw observations into a flagged/not-flagged verdict
// with a human-readable reason per satisfied threshold.
package classify

import "fmt"

// Op is the comparison a Check applies between its observation and threshold.
type Op int

const (
	// AtMost holds when observed <= threshold.
	AtMost Op = iota
	// Below holds when observed < threshold.
	Below
	// AtLeast holds when observed >= threshold.
	AtLeast
	// Above holds when observed > threshold.
	Above
)

// String returns the comparison symbol used in reasons.
func (o Op) String() string {
	switch o {
	case AtMost:
		return "<="
	case Below:
		return "<"
	case AtLeast:
		return ">="
	case Above:
		return ">"
	default:
		return "?"
	}
}

func (o Op) holds(observed, threshold float64) bool {
	switch o {
	case AtMost:
		return observed <= threshold
	case Below:
		return observed < threshold
	case AtLeast:
		return observed >= threshold
	case Above:
		return observed > threshold
	default:
		return false
	}
}

// Combinator decides how individual checks combine into a verdict.
type Combinator int

const (
	// All flags a resource only when every check holds.
	All Combinator = iota
	// Any flags a resource when at least one check holds.
	Any
)

func (c Combinator) String() string {
	if c == Any {
		return "any"
	}
	return "all"
}

// Check is a single named threshold comparison.
type Check struct {
	Name      string
	Observed  float64
	Threshold float64
	Op        Op
	// Text replaces the generated reason when non-empty. Used for
	// conditions that are not numeric, e.g. "default encryption missing".
	Text string
}

// Holds reports whether the comparison is satisfied. NaN never holds.
func (c Check) Holds() bool {
	return c.Op.holds(c.Observed, c.Threshold)
}

// Reason formats the check as "<name> <observed> <op> <threshold>".
func (c Check) Reason() string {
	if c.Text != "" {
		return c.Text
	}
	return fmt.Sprintf("%s %.2f %s %.2f", c.Name, c.Observed, c.Op, c.Threshold)
}

// Condition builds a check from a precomputed boolean. It holds when cond
// is true and reports text as its reason.
func Condition(name string, cond bool, text string) Check {
	observed := 0.0
	if cond {
		observed = 1
	}
	return Check{Name: name, Observed: observed, Threshold: 1, Op: AtLeast, Text: text}
}

// Result is the verdict for one resource.
type Result struct {
	Flagged bool
	// Reasons lists one entry per holding check, in evaluation order.
	Reasons []string
}

// Classify evaluates checks with the given combinator. An empty check list is
// never flagged.
func Classify(checks []Check, comb Combinator) Result {
	if len(checks) == 0 {
		return Result{}
	}

	var (
		reasons []string
		held    int
	)
	for _, c := range checks {
		if c.Holds() {
			held++
			reasons = append(reasons, c.Reason())
		}
	}

	flagged := held > 0
	if comb == All {
		flagged = held == len(checks)
	}
	return Result{Flagged: flagged, Reasons: reasons}
}
