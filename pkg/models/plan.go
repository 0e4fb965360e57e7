package models

// StepStatus is the lifecycle status shared by plans and steps.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusPaused    StepStatus = "paused"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// Terminal reports whether the status is a final one.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Step is a single unit of work inside a plan.
// SubFlowType and SubFlowStep are hints produced by hierarchical planners;
// they round-trip through persistence but no controller consumes them here.
type Step struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubFlowType string     `json:"sub_flow_type,omitempty"`
	SubFlowStep *int       `json:"sub_flow_step,omitempty"`
}

// Plan is the structured task decomposition the planner produces and the
// executor works through step by step.
type Plan struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Goal   string     `json:"goal"`
	Steps  []*Step    `json:"steps"`
	Status StepStatus `json:"status"`
}

// NextStep returns the first step that has not reached a terminal status,
// or nil when every step is completed or failed.
func (p *Plan) NextStep() *Step {
	for _, s := range p.Steps {
		if !s.Status.Terminal() {
			return s
		}
	}
	return nil
}

// Completed reports whether every step reached a terminal status.
func (p *Plan) Completed() bool {
	return p.NextStep() == nil
}

// ApplyUpdate replaces the not-yet-terminal tail of the plan with newSteps.
// Steps strictly before the first non-terminal step are kept verbatim: once a
// step is completed or failed the planner never mutates it again.
func (p *Plan) ApplyUpdate(newSteps []*Step) {
	cut := len(p.Steps)
	for i, s := range p.Steps {
		if !s.Status.Terminal() {
			cut = i
			break
		}
	}
	kept := p.Steps[:cut]
	p.Steps = make([]*Step, 0, len(kept)+len(newSteps))
	p.Steps = append(p.Steps, kept...)
	p.Steps = append(p.Steps, newSteps...)
}
