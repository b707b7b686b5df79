package schema

import (
	"strings"
	"sync"
)

// Column type names used in TableSchema.Types.
const (
	StringType    = "string"
	Int32Type     = "int32"
	Int64Type     = "int64"
	Float64Type   = "float64"
	TimestampType = "timestamp"
)

// TimeMode selects how the time attribute column of every input is filled.
type TimeMode string

const (
	EventTime      TimeMode = "EventTime"
	ProcessingTime TimeMode = "ProcessingTime"
)

// ParseTimeMode accepts the configuration spelling. Anything other than
// EventTime selects processing time.
func ParseTimeMode(s string) TimeMode {
	if strings.TrimSpace(s) == string(EventTime) {
		return EventTime
	}
	return ProcessingTime
}

// Time attribute column name and its two declarations.
const (
	TimeColumn        = "rowtime"
	RowtimeAttribute  = TimeColumn + ".rowtime"
	ProctimeAttribute = TimeColumn + ".proctime"
)

// TimeAttribute returns the declaration of the trailing time column.
func TimeAttribute(mode TimeMode) string {
	if mode == EventTime {
		return RowtimeAttribute
	}
	return ProctimeAttribute
}

type TableSchema struct {
	Types      map[string]string
	FieldOrder []string
}

// NewTableSchema builds a schema from alternating name/type pairs.
func NewTableSchema(pairs ...string) TableSchema {
	s := TableSchema{Types: make(map[string]string, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.FieldOrder = append(s.FieldOrder, pairs[i])
		s.Types[pairs[i]] = pairs[i+1]
	}
	return s
}

// FieldString renders the column declaration handed to the query engine:
// every field name followed by the time attribute, comma separated.
func FieldString(fieldNames []string, mode TimeMode) string {
	var sb strings.Builder
	for _, f := range fieldNames {
		sb.WriteString(f)
		sb.WriteByte(',')
	}
	sb.WriteString(TimeAttribute(mode))
	return sb.String()
}

type Manager struct {
	mu      sync.RWMutex
	schemas map[string]TableSchema
}

func NewSchemaManager() *Manager {
	return &Manager{
		schemas: make(map[string]TableSchema),
	}
}

// IsSchemaDifferent checks if two TableSchemas differ in structure.
func (sm *Manager) IsSchemaDifferent(old, newSchema TableSchema) bool {
	if len(newSchema.FieldOrder) != len(old.FieldOrder) {
		return true
	}
	for i, k := range newSchema.FieldOrder {
		if old.FieldOrder[i] != k || old.Types[k] != newSchema.Types[k] {
			return true
		}
	}
	return false
}

// Update replaces the schema for a given table name.
func (sm *Manager) Update(table string, newSchema TableSchema) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.schemas[table] = newSchema
}

// GetSchemaForTable retrieves the schema for a specific table.
func (sm *Manager) GetSchemaForTable(table string) (TableSchema, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.schemas[table]
	return s, ok
}

// Tables lists registered table names.
func (sm *Manager) Tables() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.schemas))
	for name := range sm.schemas {
		out = append(out, name)
	}
	return out
}
