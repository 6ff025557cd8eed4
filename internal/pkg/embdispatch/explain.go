package embdispatch

import (
	"fmt"
	"strings"

	"github.com/emberql/emberql/plan"
)

// explain renders a plan tree as an indented operator list, grounded on
// the teacher's log.Debugf("Loaded config: %#v", c)-style human-readable
// dumps (config.go) rather than a structured/serialized representation —
// AnalyzePlan's response only needs to be read by a person at a terminal.
func explain(n plan.Node) string {
	var b strings.Builder
	explainNode(&b, n, 0)
	return b.String()
}

func explainNode(b *strings.Builder, n plan.Node, depth int) {
	if n == nil {
		return
	}
	fmt.Fprintf(b, "%s%s\n", strings.Repeat("  ", depth), n.Kind())
	for _, c := range n.Children() {
		explainNode(b, c, depth+1)
	}
}

// fieldDescriptors flattens a node's output schema into the wire DTO shape.
func fieldDescriptors(n plan.Node) []FieldDescriptorDTO {
	schema := n.Schema()
	if schema == nil {
		return nil
	}
	out := make([]FieldDescriptorDTO, schema.NumFields())
	for i, f := range schema.Fields() {
		out[i] = FieldDescriptorDTO{Name: f.Name, Type: f.Type.Name(), Nullable: f.Nullable}
	}
	return out
}
