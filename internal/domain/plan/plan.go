// Package plan defines the planner output: a parent task and its ordered subtasks.
package plan

// Plan is transient planner output. It is never stored as its own entity;
// the conductor turns it into one parent task and one task per SubTask.
type Plan struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	SubTasks    []SubTask `json:"subTasks"`
}

// SubTask is one ordered step of a plan. Order in Plan.SubTasks is the
// execution order.
type SubTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AgentID     string `json:"agentId"`
}

// AgentIDs returns the distinct agents referenced by the plan, in first-use order.
func (p *Plan) AgentIDs() []string {
	seen := make(map[string]bool, len(p.SubTasks))
	var ids []string
	for i := range p.SubTasks {
		id := p.SubTasks[i].AgentID
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
