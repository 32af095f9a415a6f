package mdadapter

import (
	"regexp"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var statusDirectiveRe = regexp.MustCompile(`^{{\s*status:\s*([a-z]+)\s*}}`)

type StatusBadgeParser struct{}

func NewStatusBadgeParser() parser.InlineParser {
	return &StatusBadgeParser{}
}

func (s *StatusBadgeParser) Trigger() []byte {
	return []byte{'{'}
}

func (s *StatusBadgeParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()

	matches := statusDirectiveRe.FindSubmatch(line)
	if matches == nil {
		return nil
	}

	block.Advance(len(matches[0]))

	return &StatusBadge{Status: string(matches[1])}
}
