// Package graph validates workflow definitions and indexes them for scheduling.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vanyastaff/nebulav2/pkg/models"
)

// ErrInvalidDefinition is the sentinel wrapped by every ValidationError.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// ValidationError lists every structural problem found in a definition.
type ValidationError struct {
	WorkflowID string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDefinition
}

// IsValidationError checks if an error comes from definition validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidDefinition)
}

// Graph is a validated, indexed view of a workflow definition.
type Graph struct {
	def      *models.WorkflowDefinition
	nodes    map[string]*models.NodeDefinition
	incoming map[string][]*models.Connection
	outgoing map[string][]*models.Connection
	order    []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a definition without building an index.
func Validate(def *models.WorkflowDefinition) error {
	_, err := New(def)

	return err
}

// New validates the definition and returns its index. Node IDs must be unique,
// connections must reference declared nodes and ports, and the graph must be acyclic.
func New(def *models.WorkflowDefinition) (*Graph, error) {
	if def == nil {
		return nil, &ValidationError{Problems: []string{"definition is nil"}}
	}

	verr := &ValidationError{WorkflowID: def.ID}

	err := validate.Struct(def)
	if err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.Problems = append(verr.Problems, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
		} else {
			verr.Problems = append(verr.Problems, err.Error())
		}

		return nil, verr
	}

	g := &Graph{
		def:      def,
		nodes:    make(map[string]*models.NodeDefinition, len(def.Nodes)),
		incoming: make(map[string][]*models.Connection),
		outgoing: make(map[string][]*models.Connection),
	}

	for _, node := range def.Nodes {
		if _, dup := g.nodes[node.ID]; dup {
			verr.Problems = append(verr.Problems, fmt.Sprintf("duplicate node id %q", node.ID))

			continue
		}

		g.nodes[node.ID] = node
	}

	seen := make(map[string]bool, len(def.Connections))

	for _, conn := range def.Connections {
		if seen[conn.Key()] {
			verr.Problems = append(verr.Problems, fmt.Sprintf("duplicate connection %q", conn.Key()))

			continue
		}

		seen[conn.Key()] = true

		problems := g.checkConnection(conn)
		if len(problems) > 0 {
			verr.Problems = append(verr.Problems, problems...)

			continue
		}

		g.outgoing[conn.FromNode] = append(g.outgoing[conn.FromNode], conn)
		g.incoming[conn.ToNode] = append(g.incoming[conn.ToNode], conn)
	}

	if len(verr.Problems) > 0 {
		return nil, verr
	}

	order, cyclic := g.topologicalSort()
	if len(cyclic) > 0 {
		verr.Problems = append(verr.Problems, "cycle detected through nodes "+strings.Join(cyclic, ", "))

		return nil, verr
	}

	g.order = order

	return g, nil
}

func (g *Graph) checkConnection(conn *models.Connection) []string {
	var problems []string

	from, ok := g.nodes[conn.FromNode]
	if !ok {
		problems = append(problems, fmt.Sprintf("connection %q references unknown node %q", conn.Key(), conn.FromNode))
	} else if !slices.Contains(from.OutputPorts(), conn.SourcePort()) {
		problems = append(problems, fmt.Sprintf("connection %q references undeclared output port %q", conn.Key(), conn.SourcePort()))
	}

	to, ok := g.nodes[conn.ToNode]
	if !ok {
		problems = append(problems, fmt.Sprintf("connection %q references unknown node %q", conn.Key(), conn.ToNode))
	} else if !slices.Contains(to.InputPorts(), conn.TargetPort()) {
		problems = append(problems, fmt.Sprintf("connection %q references undeclared input port %q", conn.Key(), conn.TargetPort()))
	}

	if conn.FromNode == conn.ToNode {
		problems = append(problems, fmt.Sprintf("connection %q connects node %q to itself", conn.Key(), conn.FromNode))
	}

	return problems
}

// topologicalSort runs Kahn's algorithm in declaration order. Nodes left with
// unresolved in-degree are part of a cycle.
func (g *Graph) topologicalSort() ([]string, []string) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.incoming[id])
	}

	queue := make([]string, 0, len(g.nodes))

	for _, node := range g.def.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	order := make([]string, 0, len(g.nodes))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, conn := range g.outgoing[id] {
			inDegree[conn.ToNode]--
			if inDegree[conn.ToNode] == 0 {
				queue = append(queue, conn.ToNode)
			}
		}
	}

	if len(order) == len(g.nodes) {
		return order, nil
	}

	var cyclic []string

	for _, node := range g.def.Nodes {
		if inDegree[node.ID] > 0 {
			cyclic = append(cyclic, node.ID)
		}
	}

	return order, cyclic
}

func (g *Graph) Definition() *models.WorkflowDefinition {
	return g.def
}

func (g *Graph) Node(id string) *models.NodeDefinition {
	return g.nodes[id]
}

// Incoming returns the connections into a node in declaration order.
func (g *Graph) Incoming(id string) []*models.Connection {
	return g.incoming[id]
}

// Outgoing returns the connections out of a node in declaration order.
func (g *Graph) Outgoing(id string) []*models.Connection {
	return g.outgoing[id]
}

// Order returns node IDs in a topological order stable with respect to declaration order.
func (g *Graph) Order() []string {
	return g.order
}

// Roots returns the nodes without incoming connections.
func (g *Graph) Roots() []string {
	var roots []string

	for _, id := range g.order {
		if len(g.incoming[id]) == 0 {
			roots = append(roots, id)
		}
	}

	return roots
}

// Downstream returns every node reachable from id, excluding id itself.
func (g *Graph) Downstream(id string) []string {
	visited := map[string]bool{}
	stack := []string{id}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, conn := range g.outgoing[current] {
			if !visited[conn.ToNode] {
				visited[conn.ToNode] = true
				stack = append(stack, conn.ToNode)
			}
		}
	}

	var result []string

	for _, nodeID := range g.order {
		if visited[nodeID] {
			result = append(result, nodeID)
		}
	}

	return result
}
