package nets

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

// ToDot renders the layers of an initialized network as a graphviz digraph. Layers are grouped in
// clusters by the first component of their names; frozen layers are drawn grey.
func ToDot(n *Net) (string, error) {
	if n.b == nil {
		return "", errors.New("network is not initialized")
	}
	g := gographviz.NewEscape()
	if err := g.SetName("G"); err != nil {
		return "", err
	}
	g.SetDir(true)

	frozen := make(map[string]bool)
	for _, p := range n.b.params {
		if p.frozen {
			frozen[layerOf(p.name)] = true
		}
	}

	clusters := make(map[string]bool)
	for _, l := range n.b.layers {
		parent := "G"
		if i := strings.Index(l.name, "."); i > 0 {
			parent = "cluster_" + l.name[:i]
			if !clusters[parent] {
				clusters[parent] = true
				if err := g.AddSubGraph("G", parent, map[string]string{"label": l.name[:i]}); err != nil {
					return "", err
				}
			}
		}
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "box",
			"label":    fmt.Sprintf(`%s\n%s %v`, l.name, l.kind, l.shape),
		}
		if l.kind == "input" {
			attrs["shape"] = "ellipse"
		}
		if frozen[l.name] {
			attrs["style"] = "filled"
			attrs["fillcolor"] = "lightgrey"
		}
		if err := g.AddNode(parent, l.name, attrs); err != nil {
			return "", err
		}
		for _, from := range l.from {
			if err := g.AddEdge(from, l.name, true, nil); err != nil {
				return "", err
			}
		}
	}
	return g.String(), nil
}

// layerOf strips the parameter kind from a parameter name.
func layerOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}
