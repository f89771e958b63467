package graph

import (
	"context"
	"sort"
	"sync"
)

// depNode is the type-erased registration of one NewDep callable. It lives
// in the process-wide depRegistry so the resolver can walk transitive reqs
// without knowing each dep's T.
type depNode struct {
	id   string
	reqs []string
	call func(ctx context.Context, r *ResolveContext) (any, error)
}

// depRegistry maps dep id -> *depNode, populated by NewDep at package
// init time: a callable plus the callables it transitively needs,
// favoring interface-driven registration over discovering the dep graph
// by inspecting function bodies (which Go cannot do at runtime).
var depRegistry sync.Map

// depDAG is a node type's dep-DAG, resolved to concrete
// levels: level[i] is safe to run concurrently once every dep in
// level[0..i-1] has completed.
type depDAG struct {
	levels [][]*depNode
}

// buildDepDAG computes the transitive closure of rootIDs (a node's direct
// Dep fields) against depRegistry, topologically sorts it into levels, and
// rejects cycles with a constructive error naming the cycle.
func buildDepDAG(rootIDs []string) (*depDAG, error) {
	visited := map[string]*depNode{}
	onStack := map[string]bool{}
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		if _, ok := visited[id]; ok {
			return nil
		}
		if onStack[id] {
			return &GraphConstructionError{Message: "cyclic dep graph: " + cyclePath(append(path, id))}
		}
		v, ok := depRegistry.Load(id)
		if !ok {
			return &GraphConstructionError{Message: "unregistered dep id " + id}
		}
		dn := v.(*depNode)

		onStack[id] = true
		path = append(path, id)
		for _, req := range dn.reqs {
			if err := visit(req); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		onStack[id] = false
		visited[id] = dn
		return nil
	}

	for _, id := range rootIDs {
		if err := visit(id); err != nil {
			return nil, err
		}
	}

	return &depDAG{levels: computeLevels(visited)}, nil
}

func cyclePath(ids []string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += " -> " + id
	}
	return out
}

// computeLevels arranges nodes into topological levels via a Kahn's-
// algorithm-style frontier expansion: a node is ready once every id in its
// reqs has appeared in an earlier level. Within a level, ids are sorted for
// deterministic iteration; actual dispatch still fans every id in a level
// out concurrently.
func computeLevels(nodes map[string]*depNode) [][]*depNode {
	done := map[string]bool{}
	var levels [][]*depNode

	for len(done) < len(nodes) {
		var readyIDs []string
		for id, dn := range nodes {
			if done[id] {
				continue
			}
			ready := true
			for _, req := range dn.reqs {
				if !done[req] {
					ready = false
					break
				}
			}
			if ready {
				readyIDs = append(readyIDs, id)
			}
		}

		sort.Strings(readyIDs)

		level := make([]*depNode, len(readyIDs))
		for i, id := range readyIDs {
			level[i] = nodes[id]
			done[id] = true
		}
		levels = append(levels, level)
	}

	return levels
}
