package engine

import (
	"fmt"

	"github.com/kingrea/stepfile/internal/step"
)

// NodeState is the planner's prediction for a step.
type NodeState string

const (
	// NodeComplete steps have all outputs with matching configuration.
	NodeComplete NodeState = "complete"
	// NodePending steps would run.
	NodePending NodeState = "pending"
	// NodeBlocked steps would fail before running (see Err or BlockedBy).
	NodeBlocked NodeState = "blocked"
	// NodeLocked steps are held by another execution; a run would wait.
	NodeLocked NodeState = "locked"
)

// PlanNode describes what Execute would do with one step.
type PlanNode struct {
	ID        step.ID
	Name      string
	State     NodeState
	BlockedBy []step.ID
	Err       error
}

// Plan lists visited steps with producers before their consumers.
type Plan struct {
	Nodes []PlanNode
}

// Pending returns the steps a run would execute, in execution order.
func (p Plan) Pending() []step.ID {
	var out []step.ID
	for _, n := range p.Nodes {
		if n.State == NodePending {
			out = append(out, n.ID)
		}
	}
	return out
}

// Blocked reports whether any visited step would fail.
func (p Plan) Blocked() bool {
	for _, n := range p.Nodes {
		if n.State == NodeBlocked {
			return true
		}
	}
	return false
}

// Plan predicts Execute for each target without taking sentinels, writing
// param files, or running work. It follows the same decisions as Execute:
// complete steps with current inputs are not descended into, existing inputs
// have their producer's configuration verified, and missing ones are traced
// to their producers.
func (e *Engine) Plan(ids ...step.ID) (Plan, error) {
	p := &planner{engine: e, states: map[step.ID]NodeState{}}
	for _, id := range ids {
		s, err := e.graph.Lookup(id)
		if err != nil {
			return Plan{}, err
		}
		if _, err := p.visit(s); err != nil {
			return Plan{}, err
		}
	}
	return Plan{Nodes: p.nodes}, nil
}

type planner struct {
	engine *Engine
	states map[step.ID]NodeState
	nodes  []PlanNode
}

func (p *planner) visit(s step.Step) (NodeState, error) {
	if state, ok := p.states[s.ID()]; ok {
		return state, nil
	}
	// Guards against cycles; Execute itself would deadlock on its own sentinel.
	p.states[s.ID()] = NodePending

	node := PlanNode{ID: s.ID(), Name: s.Name(), State: NodePending}
	e := p.engine
	locked, err := e.fs.Exists(s.SentinelFile())
	if err != nil {
		return "", err
	}
	complete, err := e.outputsPresent(s)
	if err != nil {
		return "", err
	}
	switch {
	case locked:
		node.State = NodeLocked
	case complete:
		if err := e.verifyConfiguration(s); err != nil {
			node.State, node.Err = NodeBlocked, err
			break
		}
		current, err := e.inputsCurrent(s)
		switch {
		case err != nil && step.IsPrecondition(err):
			node.State, node.Err = NodeBlocked, err
		case err != nil:
			return "", err
		case current:
			node.State = NodeComplete
		default:
			if err := p.visitInputs(s, &node); err != nil {
				return "", err
			}
		}
	default:
		if err := p.visitInputs(s, &node); err != nil {
			return "", err
		}
	}
	p.states[s.ID()] = node.State
	p.nodes = append(p.nodes, node)
	return node.State, nil
}

func (p *planner) visitInputs(s step.Step, node *PlanNode) error {
	e := p.engine
	label := step.Label(s)
	for _, in := range s.Inputs() {
		exists, err := e.fs.Exists(in.Path)
		if err != nil {
			return err
		}
		if !in.HasProducer() {
			if !exists && node.Err == nil {
				node.State, node.Err = NodeBlocked, &step.MissingInputError{Step: label, Path: in.Path}
			}
			continue
		}
		producer, err := e.graph.Lookup(in.Producer)
		if err != nil {
			node.State, node.Err = NodeBlocked, fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
			continue
		}
		if exists {
			if err := e.verifyConfiguration(producer); err != nil && node.Err == nil {
				node.State, node.Err = NodeBlocked, fmt.Errorf("step %s: input %s: %w", label, in.Path, err)
			}
			continue
		}
		if !step.Produces(producer, in.Path) {
			if node.Err == nil {
				node.State, node.Err = NodeBlocked, &step.ProducerMismatchError{
					Step:     label,
					Producer: step.Label(producer),
					Path:     in.Path,
					Outputs:  producer.Outputs(),
				}
			}
			continue
		}
		state, err := p.visit(producer)
		if err != nil {
			return err
		}
		if state == NodeBlocked {
			node.State = NodeBlocked
			node.BlockedBy = append(node.BlockedBy, producer.ID())
		}
	}
	return nil
}
