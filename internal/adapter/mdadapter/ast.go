package mdadapter

import (
	"github.com/yuin/goldmark/ast"
)

var KindStatusBadge = ast.NewNodeKind("StatusBadge")

// StatusBadge is the inline {{ status: <name> }} directive.
type StatusBadge struct {
	ast.BaseInline
	Status string
}

func (n *StatusBadge) Kind() ast.NodeKind {
	return KindStatusBadge
}

func (n *StatusBadge) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Status": n.Status,
	}, nil)
}
