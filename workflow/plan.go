package workflow

// ExecutionPlan is the layered, read-only execution order produced by
// ParsePlan. The concatenation of Layers is a topological order of the
// definition's edges and covers every node exactly once.
type ExecutionPlan struct {
	// Layers is an ordered sequence of node-ID sets. Nodes within one layer
	// have no dependency on each other; the executor may run them
	// concurrently. Within a layer, order follows the definition's node
	// insertion order to keep behavior reproducible.
	Layers [][]string

	// ParallelBranches maps each fan-out node (out-degree > 1) to its
	// successor IDs. Diagnostic only; the executor derives nothing from it.
	ParallelBranches map[string][]string

	// ConvergencePoints is the set of nodes with in-degree > 1.
	ConvergencePoints map[string]bool

	// Predecessors maps each node to its direct upstream node IDs, in edge
	// insertion order. Used by the executor to gate layer dispatch and to
	// resolve the predecessor of condition nodes.
	Predecessors map[string][]string
}

// ParsePlan validates a definition as a single-source/single-sink DAG and
// returns its layered execution plan.
//
// Validation order:
//  1. Required per-type node fields (task needs taskType, condition needs
//     a conditionExpression, http needs httpConfig).
//  2. Terminals: exactly one start and exactly one end node.
//  3. Edge endpoints must name known nodes.
//  4. Every node must be reachable from start by forward traversal.
//  5. The edge graph must be acyclic (Kahn layering).
//
// The returned plan must be treated as read-only.
func ParsePlan(def *WorkflowDefinition) (*ExecutionPlan, error) {
	if err := validateNodeFields(def); err != nil {
		return nil, err
	}
	if err := validateTerminals(def); err != nil {
		return nil, err
	}

	// Adjacency, reverse adjacency, and in-degree maps keyed by node ID.
	// Edge endpoint validation happens while building them.
	known := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		known[n.ID] = true
	}

	adjacency := make(map[string][]string, len(def.Nodes))
	predecessors := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	outDegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range def.Edges {
		if !known[e.Source] {
			return nil, newValidationError(CodeEdgeRefsUnknownNode,
				"edge %q references unknown source node %q", e.ID, e.Source)
		}
		if !known[e.Target] {
			return nil, newValidationError(CodeEdgeRefsUnknownNode,
				"edge %q references unknown target node %q", e.ID, e.Target)
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		predecessors[e.Target] = append(predecessors[e.Target], e.Source)
		inDegree[e.Target]++
		outDegree[e.Source]++
	}

	startID := findTerminal(def, NodeTypeStart)
	if err := validateReachability(def, adjacency, startID); err != nil {
		return nil, err
	}

	layers, err := layerByKahn(def, adjacency, inDegree)
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		Layers:            layers,
		ParallelBranches:  make(map[string][]string),
		ConvergencePoints: make(map[string]bool),
		Predecessors:      predecessors,
	}
	for id, succ := range adjacency {
		if len(succ) > 1 {
			branches := make([]string, len(succ))
			copy(branches, succ)
			plan.ParallelBranches[id] = branches
		}
	}
	for id, preds := range predecessors {
		if len(preds) > 1 {
			plan.ConvergencePoints[id] = true
		}
	}
	return plan, nil
}

// validateNodeFields rejects nodes missing the fields their type requires.
func validateNodeFields(def *WorkflowDefinition) error {
	for _, n := range def.Nodes {
		switch n.Type {
		case NodeTypeStart, NodeTypeEnd, NodeTypeParallel:
			// Structural nodes carry no required data.
		case NodeTypeTask:
			if n.Data.TaskType == "" {
				return newValidationError(CodeMissingRequiredNodeField,
					"task node %q is missing taskType", n.ID)
			}
		case NodeTypeCondition:
			if n.Data.Condition == nil {
				return newValidationError(CodeMissingRequiredNodeField,
					"condition node %q is missing conditionExpression", n.ID)
			}
		case NodeTypeScript:
			if n.Data.ScriptCode == "" {
				return newValidationError(CodeMissingRequiredNodeField,
					"script node %q is missing scriptCode", n.ID)
			}
		case NodeTypeHTTP:
			if n.Data.HTTP == nil {
				return newValidationError(CodeMissingRequiredNodeField,
					"http node %q is missing httpConfig", n.ID)
			}
			if !httpMethods[n.Data.HTTP.Method] {
				return newValidationError(CodeMissingRequiredNodeField,
					"http node %q has unsupported method %q", n.ID, n.Data.HTTP.Method)
			}
		default:
			return newValidationError(CodeUnsupportedNodeKind,
				"node %q has unsupported type %q", n.ID, n.Type)
		}
	}
	return nil
}

// validateTerminals enforces exactly one start and exactly one end node.
func validateTerminals(def *WorkflowDefinition) error {
	var starts, ends int
	for _, n := range def.Nodes {
		switch n.Type {
		case NodeTypeStart:
			starts++
		case NodeTypeEnd:
			ends++
		}
	}
	switch {
	case starts == 0:
		return newValidationError(CodeMissingStart, "workflow %q has no start node", def.ID)
	case starts > 1:
		return newValidationError(CodeDuplicateStart, "workflow %q has %d start nodes", def.ID, starts)
	case ends == 0:
		return newValidationError(CodeMissingEnd, "workflow %q has no end node", def.ID)
	case ends > 1:
		return newValidationError(CodeDuplicateEnd, "workflow %q has %d end nodes", def.ID, ends)
	}
	return nil
}

// findTerminal returns the ID of the first node of the given type.
func findTerminal(def *WorkflowDefinition, typ NodeType) string {
	for _, n := range def.Nodes {
		if n.Type == typ {
			return n.ID
		}
	}
	return ""
}

// validateReachability runs a forward BFS from start and rejects any node
// the traversal never visits.
func validateReachability(def *WorkflowDefinition, adjacency map[string][]string, startID string) error {
	visited := make(map[string]bool, len(def.Nodes))
	queue := []string{startID}
	visited[startID] = true
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, n := range def.Nodes {
		if !visited[n.ID] {
			return newValidationError(CodeUnreachable,
				"node %q is not reachable from start", n.ID)
		}
	}
	return nil
}

// layerByKahn performs Kahn's algorithm, emitting each zero-in-degree set
// as one layer. Layer membership follows the definition's node insertion
// order. Any leftover node with in-degree > 0 means the graph has a cycle.
//
// inDegree is consumed.
func layerByKahn(def *WorkflowDefinition, adjacency map[string][]string, inDegree map[string]int) ([][]string, error) {
	remaining := len(def.Nodes)
	assigned := make(map[string]bool, remaining)
	var layers [][]string

	for remaining > 0 {
		var layer []string
		for _, n := range def.Nodes {
			if !assigned[n.ID] && inDegree[n.ID] == 0 {
				layer = append(layer, n.ID)
			}
		}
		if len(layer) == 0 {
			// Nodes remain but none is free of incoming edges.
			return nil, newValidationError(CodeCycle,
				"workflow %q contains a cycle: %d nodes remain with unresolved dependencies", def.ID, remaining)
		}
		for _, id := range layer {
			assigned[id] = true
			remaining--
			for _, next := range adjacency[id] {
				inDegree[next]--
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
