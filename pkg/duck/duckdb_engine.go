// Package duck runs benchmark jobs on an embedded DuckDB database.
package duck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/tianqiongenze/StreamingBench/pkg/schema"
	"github.com/tianqiongenze/StreamingBench/pkg/stream"
)

// quoteSQLIdentifier safely quotes a SQL identifier to prevent injection
func quoteSQLIdentifier(identifier string) string {
	// DuckDB uses double quotes for identifiers, escape any existing quotes
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

type DBEngine struct {
	db      *sql.DB
	mu      sync.Mutex
	dbPath  string // used to delete the file if not in-memory
	schemas *schema.Manager
}

// NewDuckDBEngine opens an in-memory database, or a fresh file at dbPath.
func NewDuckDBEngine(dbPath string) (*DBEngine, error) {
	dsn := ":memory:"
	if dbPath != "" {
		dsn = fmt.Sprintf("%s?access_mode=read_write", dbPath)
		_ = os.Remove(dbPath)
	}

	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		bootQueries := []string{
			`SET schema='main'`,
			`SET search_path='main'`,
			`SET TimeZone='UTC'`,
		}
		for _, q := range bootQueries {
			if _, err := execer.ExecContext(context.Background(), q, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	return &DBEngine{
		db:      sql.OpenDB(connector),
		dbPath:  dbPath,
		schemas: schema.NewSchemaManager(),
	}, nil
}

// CreateTableFromSchema (re)creates table with one column per schema field
// and the trailing time attribute column.
func (e *DBEngine) CreateTableFromSchema(ctx context.Context, table string, tblSchema schema.TableSchema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	columns := make([]string, 0, len(tblSchema.FieldOrder)+1)
	for _, fieldName := range tblSchema.FieldOrder {
		columns = append(columns, quoteSQLIdentifier(fieldName)+" "+mapToDuckDBType(tblSchema.Types[fieldName]))
	}
	columns = append(columns, quoteSQLIdentifier(schema.TimeColumn)+" TIMESTAMP")

	query := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s);", quoteSQLIdentifier(table), strings.Join(columns, ", "))
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	if old, ok := e.schemas.GetSchemaForTable(table); ok && e.schemas.IsSchemaDifferent(old, tblSchema) {
		log.Printf("[DuckDB] Table %s replaced with a new schema", table)
	}
	e.schemas.Update(table, tblSchema)
	log.Printf("[DuckDB] Table %s created", table)
	return nil
}

// Tables lists the tables created through this engine.
func (e *DBEngine) Tables() []string {
	return e.schemas.Tables()
}

// InsertBatch appends rows with the DuckDB appender. Each row carries the
// schema's values followed by its rowtime.
func (e *DBEngine) InsertBatch(ctx context.Context, table string, rows []stream.Row) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(rows) == 0 {
		return 0, nil
	}
	if _, ok := e.schemas.GetSchemaForTable(table); !ok {
		return 0, fmt.Errorf("table %s is not registered", table)
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var appender *duckdb.Appender
	err = conn.Raw(func(dc any) error {
		driverConn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("failed to assert driver.Conn")
		}
		appender, err = duckdb.NewAppenderFromConn(driverConn, "main", table)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create appender: %w", err)
	}

	count := 0
	for _, r := range rows {
		values := make([]driver.Value, 0, len(r.Values)+1)
		for _, v := range r.Values {
			values = append(values, v)
		}
		values = append(values, r.Rowtime.UTC())

		if err := appender.AppendRow(values...); err != nil {
			_ = appender.Close()
			return count, fmt.Errorf("append row to %s: %w", table, err)
		}
		count++
	}

	if err := appender.Close(); err != nil {
		return count, fmt.Errorf("failed to flush appender: %w", err)
	}
	return count, nil
}

// Prepare checks that query compiles against the registered tables.
func (e *DBEngine) Prepare(ctx context.Context, query string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stmt, err := e.db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	return stmt.Close()
}

// ExecuteSQL executes a custom SELECT (or other) query
func (e *DBEngine) ExecuteSQL(ctx context.Context, query string) (*sql.Rows, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.QueryContext(ctx, query)
}

// Cleanup closes the database and removes its file (if not in-memory)
func (e *DBEngine) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_ = e.db.Close()
	if e.dbPath != "" {
		if err := os.Remove(e.dbPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete DuckDB file: %w", err)
		}
	}
	return nil
}

// typeMapping holds the mapping from schema types to DuckDB types
var typeMapping = map[string]string{
	schema.StringType:    "VARCHAR",
	schema.Int32Type:     "INTEGER",
	schema.Int64Type:     "BIGINT",
	schema.Float64Type:   "DOUBLE",
	schema.TimestampType: "TIMESTAMP",
}

func mapToDuckDBType(typ string) string {
	if duckType, ok := typeMapping[strings.ToLower(strings.TrimSpace(typ))]; ok {
		return duckType
	}
	return "VARCHAR"
}
