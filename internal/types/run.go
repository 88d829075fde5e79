package types

// RunSpec is the immutable input to one execution.
type RunSpec struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	SourceCode string `json:"source_code"`
	TimeoutMS  int    `json:"timeout_ms"`
}

// Table is a parsed CSV attachment.
type Table struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}
