// Package workflow implements the directed-graph workflow runtime: typed
// state records, node functions that patch the state and optionally select a
// route, conditional edges, per-workflow scoped caches, live progress sinks,
// and lifecycle bookkeeping against the store and event bus.
//
// A workflow is a graph of named nodes over a mutable state record. Nodes run
// sequentially on a single logical task; suspension points are the model and
// store await points inside node bodies. Any number of workflow executions
// may run in parallel across items.
package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/telemetry"
)

// End is the edge target that terminates an execution. A definition's
// terminal sink is the node whose edge resolves to End.
const End = "end"

type (
	// State is the mutable record of named channels a workflow executes over.
	// Values are JSON-serializable; the final state is persisted as the task
	// result.
	State map[string]any

	// Patch is a node's contribution to the state. Set entries are merged
	// into the state after the node returns; Next optionally selects a
	// conditional route by label.
	Patch struct {
		// Set holds channel updates merged into the state.
		Set map[string]any
		// Next is the route label used to select the outgoing edge. Empty
		// selects the default edge.
		Next string
	}

	// NodeFunc is one asynchronous step of a workflow. It reads the state
	// through the execution, performs model or store calls, and returns a
	// patch. Returning an error fails the execution unless the error is
	// classified retryable, in which case the runtime runs the node again
	// under its retry policy until it succeeds or the attempts run out.
	NodeFunc func(ctx context.Context, ex *Execution) (*Patch, error)

	// Node is a named step in a workflow definition.
	Node struct {
		// Name identifies the node within the workflow.
		Name string
		// Run is the node body.
		Run NodeFunc
	}

	// Edge describes the outgoing transition of a node. When the node's
	// patch carries a route label, Routes selects the successor; otherwise
	// Default is used. A successor of End terminates the execution.
	Edge struct {
		// Default is the successor when the node does not select a route.
		Default string
		// Routes maps route labels to successors for conditional edges.
		Routes map[string]string
	}

	// Definition is a declarative workflow: nodes, edges, and the start
	// node. Definitions are registered once with the Runtime and are
	// immutable afterwards.
	Definition struct {
		// Name is the workflow identifier (for example "content_analysis").
		Name string
		// Start names the first node to execute.
		Start string
		// Nodes lists the workflow nodes.
		Nodes []Node
		// Edges maps node names to their outgoing transitions. A node with no
		// entry terminates the execution (implicit End).
		Edges map[string]Edge
	}

	// ProgressSink receives live progress updates from nodes that emit them
	// (the research workflows). Sinks may block; producers never drop events
	// on backpressure.
	ProgressSink func(bus.ResearchProgressPayload)

	// Execution is the per-run context handed to node functions. It carries
	// the state record, the model client from Options.Model (the runtime does
	// not wrap it), the per-workflow cache, and the optional progress sink.
	Execution struct {
		// State is the mutable state record for this run.
		State State
		// Model is the model client for this run.
		Model model.Client
		// Cache is the per-workflow scoped cache. Nodes opt in by keying
		// entries with their name and an input fingerprint.
		Cache *Cache
		// Logger is the runtime logger.
		Logger telemetry.Logger
		// ItemID is the clipboard item this execution analyzes, when any.
		ItemID string

		progress ProgressSink
	}
)

// Validate checks the structural integrity of the definition: a non-empty
// name, a known start node, unique node names, and edges that reference known
// nodes or End.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New("workflow name is required")
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("workflow %q has no nodes", d.Name)
	}
	names := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.Name == "" || n.Run == nil {
			return fmt.Errorf("workflow %q has an invalid node", d.Name)
		}
		if names[n.Name] {
			return fmt.Errorf("workflow %q duplicates node %q", d.Name, n.Name)
		}
		names[n.Name] = true
	}
	if !names[d.Start] {
		return fmt.Errorf("workflow %q start node %q is not defined", d.Name, d.Start)
	}
	for from, edge := range d.Edges {
		if !names[from] {
			return fmt.Errorf("workflow %q edge from unknown node %q", d.Name, from)
		}
		targets := append([]string{edge.Default}, mapValues(edge.Routes)...)
		for _, to := range targets {
			if to == "" || to == End {
				continue
			}
			if !names[to] {
				return fmt.Errorf("workflow %q edge %q -> unknown node %q", d.Name, from, to)
			}
		}
	}
	return nil
}

func (d *Definition) node(name string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// next resolves the successor of a node given the route label selected by its
// patch. A missing edge entry or empty resolution terminates the execution.
func (d *Definition) next(from, route string) string {
	edge, ok := d.Edges[from]
	if !ok {
		return End
	}
	if route != "" {
		if to, ok := edge.Routes[route]; ok && to != "" {
			return to
		}
	}
	if edge.Default == "" {
		return End
	}
	return edge.Default
}

func mapValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Progress emits a progress update to the execution's sink, if any.
func (ex *Execution) Progress(p bus.ResearchProgressPayload) {
	if ex.progress != nil {
		ex.progress(p)
	}
}

// String returns the named state channel as a string, or "" when absent or of
// another type.
func (ex *Execution) String(key string) string {
	v, _ := ex.State[key].(string)
	return v
}

// Float returns the named state channel as a float64, or 0 when absent.
func (ex *Execution) Float(key string) float64 {
	switch v := ex.State[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Strings returns the named state channel as a string slice. Both []string
// and []any (as produced by JSON decoding) are accepted.
func (ex *Execution) Strings(key string) []string {
	switch v := ex.State[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Fingerprint computes a stable content hash of v for cache keying. The
// value is marshaled to JSON; map key order is canonicalized by the encoder.
func Fingerprint(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
