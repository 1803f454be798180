package engine

import (
	"sort"
	"strings"

	"github.com/flowmesh-io/flowmesh/internal/nodes"
)

// topology is the per-execution view of the workflow graph after disabled
// nodes have been rewired out. It is built once at submission and read-only
// afterwards.
type topology struct {
	// nodes holds the enabled snapshot nodes by id.
	nodes map[string]*Node
	// out groups outgoing connections by source node, then source output.
	out map[string]map[string][]Connection
	// in groups incoming connections by target node, then target input.
	in map[string]map[string][]Connection
	// pred is the set of enabled predecessors a node waits on.
	pred map[string]map[string]bool
	// succ is the inverse of pred.
	succ map[string]map[string]bool
	// entry is the resolved entry node ids, sorted for determinism.
	entry []string
	// reachable is every enabled node reachable from the entries.
	reachable map[string]bool
}

// buildTopology constructs the execution graph. triggerKind selects which
// trigger nodes act as entries; "manual" matches every trigger.
func buildTopology(snap *Snapshot, triggerKind string, registry *nodes.Registry) (*topology, error) {
	topo := &topology{
		nodes:     make(map[string]*Node),
		out:       make(map[string]map[string][]Connection),
		in:        make(map[string]map[string][]Connection),
		pred:      make(map[string]map[string]bool),
		succ:      make(map[string]map[string]bool),
		reachable: make(map[string]bool),
	}

	disabled := make(map[string]bool)
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		if n.Disabled {
			disabled[n.ID] = true
			continue
		}
		if _, ok := registry.Get(n.Type); !ok {
			return nil, Errf(KindValidationFailed, n.ID, "unknown node type %q", n.Type)
		}
		topo.nodes[n.ID] = n
	}

	for _, conn := range rewireDisabled(snap.Connections, disabled) {
		if _, ok := topo.nodes[conn.Source]; !ok {
			continue
		}
		if _, ok := topo.nodes[conn.Target]; !ok {
			continue
		}
		if topo.out[conn.Source] == nil {
			topo.out[conn.Source] = make(map[string][]Connection)
		}
		topo.out[conn.Source][conn.SourceOutput] = append(topo.out[conn.Source][conn.SourceOutput], conn)
		if topo.in[conn.Target] == nil {
			topo.in[conn.Target] = make(map[string][]Connection)
		}
		topo.in[conn.Target][conn.TargetInput] = append(topo.in[conn.Target][conn.TargetInput], conn)

		if topo.pred[conn.Target] == nil {
			topo.pred[conn.Target] = make(map[string]bool)
		}
		topo.pred[conn.Target][conn.Source] = true
		if topo.succ[conn.Source] == nil {
			topo.succ[conn.Source] = make(map[string]bool)
		}
		topo.succ[conn.Source][conn.Target] = true
	}

	if cycle := topo.findCycle(); len(cycle) > 0 {
		return nil, Errf(KindCycle, "", "workflow contains a cycle through %s", strings.Join(cycle, " -> "))
	}

	if err := topo.resolveEntries(triggerKind, registry); err != nil {
		return nil, err
	}

	topo.markReachable()
	return topo, nil
}

// rewireDisabled treats disabled nodes as identity pass-throughs: each
// incoming connection is spliced to the disabled node's outgoing connections
// with port preservation. Chains of disabled nodes collapse transitively.
func rewireDisabled(conns []Connection, disabled map[string]bool) []Connection {
	if len(disabled) == 0 {
		return conns
	}

	current := conns
	// Each pass splices one layer of disabled nodes; a chain of k disabled
	// nodes needs k passes.
	for range disabled {
		var next []Connection
		changed := false
		for _, conn := range current {
			if !disabled[conn.Target] {
				// Edges out of disabled nodes stay until the final
				// cleanup; later passes still splice through them.
				next = append(next, conn)
				continue
			}
			changed = true
			for _, onward := range current {
				if onward.Source != conn.Target || onward.SourceOutput != conn.TargetInput {
					continue
				}
				next = append(next, Connection{
					Source:       conn.Source,
					SourceOutput: conn.SourceOutput,
					Target:       onward.Target,
					TargetInput:  onward.TargetInput,
				})
			}
		}
		current = next
		if !changed {
			break
		}
	}

	// Drop edges that still touch a disabled node (dead ends).
	var out []Connection
	for _, conn := range current {
		if disabled[conn.Source] || disabled[conn.Target] {
			continue
		}
		out = append(out, conn)
	}
	return dedupeConnections(out)
}

func dedupeConnections(conns []Connection) []Connection {
	seen := make(map[Connection]bool, len(conns))
	out := conns[:0]
	for _, c := range conns {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// resolveEntries picks the trigger nodes matching the submitted trigger. A
// workflow without any trigger node cannot start.
func (t *topology) resolveEntries(triggerKind string, registry *nodes.Registry) error {
	var matching []string
	haveTriggers := false
	for id, n := range t.nodes {
		def, ok := registry.Get(n.Type)
		if !ok || !def.IsTrigger() {
			continue
		}
		haveTriggers = true
		if len(t.pred[id]) > 0 {
			continue
		}
		if triggerKind == string(nodes.TriggerManual) || triggerKind == "" || string(def.TriggerKind) == triggerKind {
			matching = append(matching, id)
		}
	}
	if !haveTriggers || len(matching) == 0 {
		return Errf(KindNoTriggerAvailable, "", "no trigger matches kind %q", triggerKind)
	}
	sort.Strings(matching)
	t.entry = matching
	return nil
}

// findCycle runs Kahn's algorithm; any nodes left with in-degree > 0 sit on
// a cycle. Returned ids are sorted for a stable error message.
func (t *topology) findCycle() []string {
	indegree := make(map[string]int, len(t.nodes))
	for id := range t.nodes {
		indegree[id] = len(t.pred[id])
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for succ := range t.succ[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited == len(t.nodes) {
		return nil
	}
	var cycle []string
	for id, d := range indegree {
		if d > 0 {
			cycle = append(cycle, id)
		}
	}
	sort.Strings(cycle)
	return cycle
}

func (t *topology) markReachable() {
	queue := append([]string(nil), t.entry...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if t.reachable[id] {
			continue
		}
		t.reachable[id] = true
		for succ := range t.succ[id] {
			queue = append(queue, succ)
		}
	}
}

// downstream returns every reachable node strictly below the given one.
func (t *topology) downstream(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for succ := range t.succ[current] {
			if seen[succ] {
				continue
			}
			seen[succ] = true
			out = append(out, succ)
			queue = append(queue, succ)
		}
	}
	sort.Strings(out)
	return out
}
