package workflow

// Predicate decides at request creation time whether a step is included
// in the plan. Predicates must be pure: no I/O, evaluated exactly once,
// never re-evaluated mid-flight.
type Predicate func(a *Attributes) bool

// Always includes the step unconditionally.
func Always(_ *Attributes) bool { return true }

// IfFlag includes the step only when the named attribute flag is set.
// A missing flag excludes the step.
func IfFlag(name string) Predicate {
	return func(a *Attributes) bool {
		return a.Flag(name)
	}
}

// StepTemplate declares one step of a lifecycle definition.
type StepTemplate struct {
	// Name routes the step to its registered Adapter.
	Name string

	Criticality Criticality

	// Manual steps complete via an out-of-band human signal rather
	// than the adapter's immediate return.
	Manual bool

	// Uses names earlier steps whose result data this step's adapter
	// receives. Data passing between steps is always explicit.
	Uses []string

	// Include is the inclusion predicate. Nil means Always.
	Include Predicate
}

// Included evaluates the template's inclusion predicate against a.
func (t *StepTemplate) Included(a *Attributes) bool {
	if t.Include == nil {
		return true
	}
	return t.Include(a)
}

// Definition is the declared, ordered step plan for one lifecycle type.
type Definition struct {
	Type  LifecycleType
	Steps []StepTemplate
}

// PlannedStep is a resolved step: a template plus the creation-time skip
// decision. Skipped steps are still materialized so the plan stays
// stable and auditable.
type PlannedStep struct {
	StepTemplate

	// Order is unique and strictly increasing within the plan.
	Order int

	Skipped bool
}
