package sqlengine

import (
	"fmt"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver"

	"github.com/ahrav/go-assay/internal/ports"
)

// parserPool reuses TiDB parsers, which are not safe for concurrent use.
var parserPool = sync.Pool{New: func() any { return parser.New() }}

// ValidateReadOnly parses text with the MySQL grammar and rejects anything
// other than a single SELECT or set operation over SELECTs. It runs before
// user supplied query metrics reach a MySQL server.
func ValidateReadOnly(text string) error {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)

	stmt, err := p.ParseOneStmt(text, "", "")
	if err != nil {
		return fmt.Errorf("parse query: %w: %w", ports.ErrUnsupportedQuery, err)
	}
	switch stmt.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return nil
	}
	return fmt.Errorf("statement %T is not a query: %w", stmt, ports.ErrUnsupportedQuery)
}

// ReferencedTables returns the table names a query reads, in first-seen
// order, for query logging. Unparseable text yields nil.
func ReferencedTables(text string) []string {
	p := parserPool.Get().(*parser.Parser)
	defer parserPool.Put(p)

	stmt, err := p.ParseOneStmt(text, "", "")
	if err != nil {
		return nil
	}
	c := &tableCollector{seen: map[string]struct{}{}}
	stmt.Accept(c)
	return c.tables
}

type tableCollector struct {
	seen   map[string]struct{}
	tables []string
}

func (c *tableCollector) Enter(n ast.Node) (ast.Node, bool) {
	if t, ok := n.(*ast.TableName); ok {
		name := t.Name.O
		if t.Schema.O != "" {
			name = t.Schema.O + "." + name
		}
		if _, dup := c.seen[name]; !dup {
			c.seen[name] = struct{}{}
			c.tables = append(c.tables, name)
		}
	}
	return n, false
}

func (c *tableCollector) Leave(n ast.Node) (ast.Node, bool) { return n, true }
