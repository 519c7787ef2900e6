package classify

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ClassifyPostgres classifies sql lexically and then refines the result with
// PostgreSQL's own parser. The parser can only make a statement stricter:
// SELECT ... INTO, SELECT ... FOR UPDATE, data-modifying CTEs nested anywhere
// and EXPLAIN ANALYZE of a write all become Write. Text the parser rejects
// keeps the lexical classification; the server reports the syntax error.
func ClassifyPostgres(sql string) (*Result, error) {
	result, err := Classify(sql)
	if err != nil {
		return nil, err
	}

	parsed, err := pg_query.Parse(sql)
	if err != nil || len(parsed.Stmts) == 0 {
		return result, nil
	}

	if len(parsed.Stmts) == len(result.Statements) {
		overall := Read
		for i, raw := range parsed.Stmts {
			st := &result.Statements[i]
			st.Classification = combine(st.Classification, classifyNode(raw.Stmt))
			overall = combine(overall, st.Classification)
		}
		result.Classification = overall
		return result, nil
	}

	// The lexical split disagrees with the parser (e.g. a quoting form the
	// scanner does not know). Fold the parser's verdict into the batch.
	for _, raw := range parsed.Stmts {
		result.Classification = combine(result.Classification, classifyNode(raw.Stmt))
	}
	return result, nil
}

func classifyNode(node *pg_query.Node) Classification {
	if node == nil {
		return Unknown
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		if selectWrites(n.SelectStmt) {
			return Write
		}
		return Read
	case *pg_query.Node_VariableShowStmt:
		return Read
	case *pg_query.Node_ExplainStmt:
		if !explainAnalyze(n.ExplainStmt) {
			return Read
		}
		return classifyNode(n.ExplainStmt.Query)
	default:
		return Write
	}
}

func selectWrites(s *pg_query.SelectStmt) bool {
	if s == nil {
		return false
	}
	if s.IntoClause != nil || len(s.LockingClause) > 0 {
		return true
	}
	if withWrites(s.WithClause) {
		return true
	}
	return selectWrites(s.Larg) || selectWrites(s.Rarg)
}

// withWrites reports whether any CTE of the clause is not a plain read.
func withWrites(w *pg_query.WithClause) bool {
	if w == nil {
		return false
	}
	for _, cte := range w.Ctes {
		c, ok := cte.Node.(*pg_query.Node_CommonTableExpr)
		if !ok {
			continue
		}
		if classifyNode(c.CommonTableExpr.Ctequery) != Read {
			return true
		}
	}
	return false
}

func explainAnalyze(e *pg_query.ExplainStmt) bool {
	for _, opt := range e.Options {
		def, ok := opt.Node.(*pg_query.Node_DefElem)
		if !ok || def.DefElem.Defname != "analyze" {
			continue
		}
		// EXPLAIN (ANALYZE false) carries an explicit argument.
		if def.DefElem.Arg == nil {
			return true
		}
		switch arg := def.DefElem.Arg.Node.(type) {
		case *pg_query.Node_Boolean:
			return arg.Boolean.Boolval
		case *pg_query.Node_String_:
			switch arg.String_.Sval {
			case "false", "off", "0":
				return false
			}
		case *pg_query.Node_Integer:
			return arg.Integer.Ival != 0
		}
		return true
	}
	return false
}
