package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
)

// QueryParams narrows down the rows a query returns.
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword, for example
	// "Outcome = ?".
	Where string

	// Args holds the arguments for the placeholders in Where.
	Args []any

	// Limit is the maximum number of rows to return. Zero means no limit.
	Limit int

	// Offset is the number of rows to skip.
	Offset int

	// OrderBy specifies sorting, without the "ORDER BY" keywords.
	OrderBy string
}

// DataReader reads records back from a database written by a DataRecorder.
type DataReader interface {
	// MapTable binds a table to the struct type its rows decode into.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the names of the mapped tables.
	ListTables() []string

	// Query returns pointers to decoded rows and the number of rows that
	// match params without the limit.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type sqliteReader struct {
	db      *sql.DB
	typeMap map[string]reflect.Type
}

// NewReader opens a recorded database file for reading.
func NewReader(filename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:      db,
		typeMap: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.typeMap[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	tables := make([]string, 0, len(r.typeMap))
	for t := range r.typeMap {
		tables = append(tables, t)
	}

	sort.Strings(tables)

	return tables
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	structType, ok := r.typeMap[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("no mapping found for table: %s", tableName)
	}

	query := "SELECT * FROM " + tableName

	if params.Where != "" {
		query += " WHERE " + params.Where
	}

	if params.OrderBy != "" {
		query += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", params.Limit)
		if params.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	totalCount, err := r.queryTotalCount(ctx, tableName, params)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, query, params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanRows(rows, structType)
	if err != nil {
		return nil, 0, err
	}

	return results, totalCount, nil
}

func (r *sqliteReader) queryTotalCount(
	ctx context.Context,
	tableName string,
	params QueryParams,
) (int, error) {
	countQuery := "SELECT COUNT(*) FROM " + tableName
	if params.Where != "" {
		countQuery += " WHERE " + params.Where
	}

	var totalCount int

	err := r.db.QueryRowContext(ctx, countQuery, params.Args...).Scan(&totalCount)
	if err != nil {
		return 0, err
	}

	return totalCount, nil
}

func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fieldMap := make(map[string]int)
	for i := 0; i < structType.NumField(); i++ {
		fieldMap[structType.Field(i).Name] = i
	}

	var results []any

	for rows.Next() {
		structPtr := reflect.New(structType)
		structVal := structPtr.Elem()
		scanTargets := make([]any, len(columns))

		for i, colName := range columns {
			if fieldIdx, ok := fieldMap[colName]; ok {
				scanTargets[i] = structVal.Field(fieldIdx).Addr().Interface()
			} else {
				var placeholder any
				scanTargets[i] = &placeholder
			}
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}

		results = append(results, structPtr.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}
