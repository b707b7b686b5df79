// Package query loads benchmark query files and discovers the tables and
// join relationships they reference.
package query

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	pg "github.com/pganalyze/pg_query_go/v6"
)

const (
	qualifiedColumnFields = 2 // Number of fields in a qualified column reference (table.column)
)

type Plan struct {
	SQL         string
	Tables      []string
	JoinClauses []JoinClause
}

type JoinClause struct {
	LeftTable  string
	RightTable string
	LeftKeys   []string
	RightKeys  []string
}

// String renders the join as left(keys) = right(keys).
func (jc JoinClause) String() string {
	return fmt.Sprintf("%s(%s) = %s(%s)",
		jc.LeftTable, strings.Join(jc.LeftKeys, ","), jc.RightTable, strings.Join(jc.RightKeys, ","))
}

// Postgres folds unquoted identifiers, so each part of a table reference is
// quoted before parsing to keep names like userVisit readable in logs.
var tableRef = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)`)

func quoteTableNames(sql string) string {
	return tableRef.ReplaceAllStringFunc(sql, func(m string) string {
		sub := tableRef.FindStringSubmatch(m)
		parts := strings.Split(sub[2], ".")
		return sub[1] + ` "` + strings.Join(parts, `"."`) + `"`
	})
}

// NewPlan parses sql and collects every base table it reads, including
// tables inside sub-selects and CTE bodies. CTE names are not tables.
func NewPlan(sql string) (*Plan, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, fmt.Errorf("empty query not allowed")
	}

	tree, err := pg.Parse(quoteTableNames(sql))
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	w := newWalker()
	for _, raw := range tree.GetStmts() {
		if sel := raw.GetStmt().GetSelectStmt(); sel != nil {
			w.selectStmt(sel)
		}
	}

	tables := w.tableList()
	if len(tables) == 0 {
		return nil, fmt.Errorf("query must have a FROM clause with at least one table")
	}

	return &Plan{SQL: sql, Tables: tables, JoinClauses: w.joins}, nil
}

// Missing returns the plan's tables that are not in registered. Names
// compare case-insensitively, as DuckDB resolves them.
func (p *Plan) Missing(registered []string) []string {
	var out []string
	for _, t := range p.Tables {
		if !slices.ContainsFunc(registered, func(r string) bool { return strings.EqualFold(r, t) }) {
			out = append(out, t)
		}
	}
	return out
}

type walker struct {
	tables  map[string]struct{}
	ctes    map[string]struct{}
	aliasTo map[string]string
	joins   []JoinClause
}

func newWalker() *walker {
	return &walker{
		tables:  map[string]struct{}{},
		ctes:    map[string]struct{}{},
		aliasTo: map[string]string{},
	}
}

func (w *walker) tableList() []string {
	out := make([]string, 0, len(w.tables))
	for t := range w.tables {
		if _, isCTE := w.ctes[t]; !isCTE {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func (w *walker) selectStmt(sel *pg.SelectStmt) {
	if with := sel.GetWithClause(); with != nil {
		for _, c := range with.GetCtes() {
			cte := c.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			w.ctes[cte.GetCtename()] = struct{}{}
			if inner := cte.GetCtequery().GetSelectStmt(); inner != nil {
				w.selectStmt(inner)
			}
		}
	}
	// UNION / INTERSECT arms
	if sel.GetLarg() != nil {
		w.selectStmt(sel.GetLarg())
	}
	if sel.GetRarg() != nil {
		w.selectStmt(sel.GetRarg())
	}
	w.fromClause(sel.GetFromClause())
}

func (w *walker) fromClause(list []*pg.Node) {
	for _, n := range list {
		switch {
		case n.GetRangeVar() != nil:
			rv := n.GetRangeVar()
			name := rv.GetRelname()
			w.tables[name] = struct{}{}

			alias := name
			if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
				alias = rv.GetAlias().GetAliasname()
			}
			w.aliasTo[alias] = name
		case n.GetRangeSubselect() != nil:
			if inner := n.GetRangeSubselect().GetSubquery().GetSelectStmt(); inner != nil {
				w.selectStmt(inner)
			}
		case n.GetJoinExpr() != nil:
			j := n.GetJoinExpr()
			if j.GetLarg() != nil {
				w.fromClause([]*pg.Node{j.GetLarg()})
			}
			if j.GetRarg() != nil {
				w.fromClause([]*pg.Node{j.GetRarg()})
			}
			w.joinExpr(j)
		}
	}
}

func (w *walker) joinExpr(j *pg.JoinExpr) {
	if j.GetQuals() == nil {
		return // NATURAL JOIN etc.
	}

	var jc JoinClause
	w.scanQuals(j.GetQuals(), &jc)

	if jc.LeftTable != "" && jc.RightTable != "" {
		w.joins = append(w.joins, jc)
	}
}

// scanQuals collects column equality predicates under top-level ANDs.
func (w *walker) scanQuals(node *pg.Node, jc *JoinClause) {
	if node == nil {
		return
	}

	if boolExp := node.GetBoolExpr(); boolExp != nil {
		for _, arg := range boolExp.GetArgs() {
			w.scanQuals(arg, jc)
		}
		return
	}

	aexpr := node.GetAExpr()
	if aexpr == nil {
		return
	}
	if len(aexpr.GetName()) == 0 || aexpr.GetName()[0].GetString_().GetSval() != "=" {
		return
	}

	lcol := aexpr.GetLexpr().GetColumnRef()
	rcol := aexpr.GetRexpr().GetColumnRef()
	if lcol == nil || rcol == nil {
		return
	}

	aliasL, colL := splitColumnRef(lcol)
	aliasR, colR := splitColumnRef(rcol)
	tblL, okL := w.aliasTo[aliasL]
	tblR, okR := w.aliasTo[aliasR]
	if !okL || !okR {
		return
	}

	if jc.LeftTable == "" {
		jc.LeftTable, jc.RightTable = tblL, tblR
	}
	jc.LeftKeys = appendIfMissing(jc.LeftKeys, colL)
	jc.RightKeys = appendIfMissing(jc.RightKeys, colR)
}

func splitColumnRef(cr *pg.ColumnRef) (alias, col string) {
	fields := cr.GetFields()
	switch len(fields) {
	case qualifiedColumnFields:
		alias = fields[0].GetString_().GetSval()
		col = fields[1].GetString_().GetSval()
	case 1:
		col = fields[0].GetString_().GetSval()
	}
	return
}

func appendIfMissing(slice []string, val string) []string {
	if slices.Contains(slice, val) {
		return slice
	}
	return append(slice, val)
}
