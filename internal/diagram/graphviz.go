package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// graphvizPalette mirrors the mermaid palette as plain fill colors.
var graphvizPalette = []string{
	"#1a5276", "#2d6a2d", "#b7791a", "#6b4a8b", "#8b1a1a", "#6b6b6b",
}

// RenderImage renders a Model as a PNG image using graphviz.
// Returns the PNG bytes.
func RenderImage(model *Model) ([]byte, error) {
	ctx := context.Background()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	g, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer g.Close()

	g.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		g.SetLabel(model.Title)
	}

	kinds := distinctKinds(model.Nodes)
	colorByKind := make(map[string]string, len(kinds))
	for i, kind := range kinds {
		colorByKind[kind] = graphvizPalette[i%len(graphvizPalette)]
	}

	// Create nodes.
	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := g.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(firstLine(node.Label))
		gvNode.SetShape(cgraph.BoxShape)
		if color, ok := colorByKind[node.Kind]; ok {
			gvNode.SetStyle(cgraph.FilledNodeStyle)
			gvNode.SetFillColor(color)
			gvNode.SetFontColor("white")
		}
		gvNodes[node.ID] = gvNode
	}

	// Create edges.
	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			e, eErr := g.CreateEdgeByName("", fromGV, toGV)
			if eErr == nil && edge.Label != "" {
				e.SetLabel(edge.Label)
			}
		}
	}

	// Render to PNG.
	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}
