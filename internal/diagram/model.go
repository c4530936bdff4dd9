package diagram

// Model is the renderer-independent view of a task graph.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one task in the diagram. ID is the task label; Label is the
// display text, which may span multiple lines.
type Node struct {
	ID    string
	Label string
	Kind  string
}

// Edge points from a dependency to the task that consumes it. Label is the
// dependency role under which the edge was declared.
type Edge struct {
	From  string
	To    string
	Label string
}
