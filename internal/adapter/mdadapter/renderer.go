package mdadapter

import (
	"fmt"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type StatusBadgeRenderer struct{}

func NewStatusBadgeRenderer() renderer.NodeRenderer {
	return &StatusBadgeRenderer{}
}

func (r *StatusBadgeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindStatusBadge, r.renderStatusBadge)
}

func (r *StatusBadgeRenderer) renderStatusBadge(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	badge, ok := n.(*StatusBadge)
	if !ok {
		return ast.WalkStop, fmt.Errorf("unexpected node %T, expected *StatusBadge", n)
	}

	_, _ = fmt.Fprintf(w, `<span class="status status-%s">%s</span>`, badge.Status, badge.Status)

	return ast.WalkContinue, nil
}
