// Package datarecording stores flat records in SQLite databases.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// ErrUnsupportedField is returned when a record has a field that cannot be
// stored in a column.
var ErrUnsupportedField = errors.New("record field cannot be stored")

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created so far.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

const defaultBatchSize = 10000

// New creates a DataRecorder that writes to path.sqlite3. A random name is
// picked when path is empty. The file must not exist yet.
func New(path string) DataRecorder {
	if path == "" {
		path = "memalloc_record_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	_, err := os.Stat(filename)
	if err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	return NewWithDB(db)
}

// NewWithDB creates a DataRecorder on an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		db:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	columns []string
	entries []any
}

type sqliteWriter struct {
	sync.Mutex

	db         *sql.DB
	tables     map[string]*table
	order      []string
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("%w: %T is not a struct", ErrUnsupportedField, entry)
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if !field.IsExported() || !isAllowedKind(field.Type.Kind()) {
			return fmt.Errorf("%w: %s.%s", ErrUnsupportedField, t.Name(), field.Name)
		}
	}

	return nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	w.Lock()
	defer w.Unlock()

	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	columns := structs.Names(sampleEntry)
	createTableSQL := "CREATE TABLE " + tableName +
		" (\n\t" + strings.Join(columns, ", \n\t") + "\n);"
	w.mustExecute(createTableSQL)

	w.tables[tableName] = &table{columns: columns}
	w.order = append(w.order, tableName)
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.Lock()
	defer w.Unlock()

	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	t.entries = append(t.entries, entry)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.Lock()
	defer w.Unlock()

	return append([]string(nil), w.order...)
}

func (w *sqliteWriter) Flush() {
	w.Lock()
	defer w.Unlock()

	w.flush()
}

func (w *sqliteWriter) Close() error {
	w.Lock()
	defer w.Unlock()

	if w.closed {
		return nil
	}

	w.flush()
	w.closed = true

	return w.db.Close()
}

func (w *sqliteWriter) flush() {
	if w.entryCount == 0 || w.closed {
		return
	}

	w.mustExecute("BEGIN TRANSACTION")
	defer w.mustExecute("COMMIT TRANSACTION")

	for _, tableName := range w.order {
		t := w.tables[tableName]
		if len(t.entries) == 0 {
			continue
		}

		stmt := w.prepareStatement(tableName, t)

		for _, entry := range t.entries {
			_, err := stmt.Exec(fieldValues(entry)...)
			if err != nil {
				panic(err)
			}
		}

		stmt.Close()
		t.entries = nil
	}

	w.entryCount = 0
}

func fieldValues(entry any) []any {
	v := reflect.ValueOf(entry)
	values := make([]any, 0, v.NumField())

	for i := 0; i < v.NumField(); i++ {
		values = append(values, v.Field(i).Interface())
	}

	return values
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.db.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}

func (w *sqliteWriter) prepareStatement(tableName string, t *table) *sql.Stmt {
	placeholders := make([]string, len(t.columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	sqlStr := "INSERT INTO " + tableName +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"

	stmt, err := w.db.Prepare(sqlStr)
	if err != nil {
		panic(err)
	}

	return stmt
}
