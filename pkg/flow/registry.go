package flow

import (
	"fmt"
	"sort"

	"github.com/openagentd/agentd/pkg/agent"
)

// TypePlanAct is the built-in single-level plan/act flow type.
const TypePlanAct = "plan_act"

// Deps carries everything a flow factory needs.
type Deps struct {
	Agent        *agent.Agent
	Planner      *agent.Planner
	Executor     *agent.Executor
	Sink         agent.EventSink
	MemoryBudget int
}

// Factory constructs a flow for one agent.
type Factory func(deps Deps) *PlanActFlow

// The factory registry is populated at init and read-only afterwards, so no
// locking is needed at lookup time.
var factories = map[string]Factory{}

// Register adds a flow factory. Duplicate registration is a programming
// error and panics at startup.
func Register(flowType string, factory Factory) {
	if _, exists := factories[flowType]; exists {
		panic(fmt.Sprintf("flow type %q registered twice", flowType))
	}
	factories[flowType] = factory
}

// Build constructs a flow of the given type.
func Build(flowType string, deps Deps) (*PlanActFlow, error) {
	factory, ok := factories[flowType]
	if !ok {
		return nil, fmt.Errorf("unknown flow type %q", flowType)
	}
	return factory(deps), nil
}

// Known reports whether a flow type is registered.
func Known(flowType string) bool {
	_, ok := factories[flowType]
	return ok
}

// Types returns the registered flow types, sorted.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(TypePlanAct, func(d Deps) *PlanActFlow {
		return New(d.Agent, d.Planner, d.Executor, d.Sink, d.MemoryBudget)
	})
}
