package sqlmcp

import "encoding/json"

// RunQueryInput is the input for the run_query tool.
type RunQueryInput struct {
	SQL string `json:"sql"`
	// Params are bound positionally using the dialect's own placeholder
	// syntax ($1 for Postgres, ? for MySQL and SQLite, @p1 for SQL Server).
	Params []any `json:"params,omitempty"`
}

// QueryOutput is the output of the run_query tool. Row-returning
// statements fill Columns and Rows; other statements fill AffectedRows and
// encode as {"affected_rows": n} alone.
type QueryOutput struct {
	Columns      []string `json:"columns" yaml:"columns"`
	Rows         [][]any  `json:"rows" yaml:"rows"`
	AffectedRows *int64   `json:"affected_rows,omitempty" yaml:"affected_rows,omitempty"`
	// Truncated is set when rows were dropped by max_rows or
	// max_result_length.
	Truncated bool `json:"truncated,omitempty" yaml:"truncated,omitempty"`
}

type writeOutput struct {
	AffectedRows int64 `json:"affected_rows" yaml:"affected_rows"`
}

// queryOutput has QueryOutput's fields without its marshal methods.
type queryOutput QueryOutput

func (o QueryOutput) MarshalJSON() ([]byte, error) {
	if o.AffectedRows != nil {
		return json.Marshal(writeOutput{AffectedRows: *o.AffectedRows})
	}
	return json.Marshal(queryOutput(o))
}

func (o QueryOutput) MarshalYAML() (any, error) {
	if o.AffectedRows != nil {
		return writeOutput{AffectedRows: *o.AffectedRows}, nil
	}
	return queryOutput(o), nil
}

// ListTablesInput is the input for the list_tables tool.
type ListTablesInput struct {
	// Filter keeps names containing it, case-insensitively.
	Filter *string `json:"filter,omitempty"`
}

// ListTablesOutput is the output of the list_tables tool. It encodes as a
// bare list of names.
type ListTablesOutput struct {
	Tables []string
}

func (o ListTablesOutput) MarshalJSON() ([]byte, error) {
	if o.Tables == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o.Tables)
}

func (o *ListTablesOutput) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &o.Tables)
}

func (o ListTablesOutput) MarshalYAML() (any, error) {
	if o.Tables == nil {
		return []string{}, nil
	}
	return o.Tables, nil
}

// DescribeTableInput is the input for the describe_table tool.
type DescribeTableInput struct {
	// Name may be schema-qualified.
	Name string `json:"name"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
	// Key is "primary", "foreign", "unique" or "".
	Key     string `json:"key" yaml:"key"`
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// ForeignKeyInfo describes a single directly declared foreign key.
type ForeignKeyInfo struct {
	Name              string   `json:"name" yaml:"name"`
	Columns           []string `json:"columns" yaml:"columns"`
	ReferencedTable   string   `json:"referenced_table" yaml:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns" yaml:"referenced_columns"`
}

// TableDescriptor is the output of the describe_table tool.
type TableDescriptor struct {
	Schema      string           `json:"schema" yaml:"schema"`
	Name        string           `json:"name" yaml:"name"`
	Columns     []ColumnInfo     `json:"columns" yaml:"columns"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys" yaml:"foreign_keys"`
}
