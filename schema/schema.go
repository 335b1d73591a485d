// ABOUTME: Table descriptor built by reflecting over a row struct's fields and tags.
// ABOUTME: Resolves column names, storage-class affinities and constraint text once at startup.

package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when a filter, ordering, index or projection
// argument names a column that is not part of the table definition.
var ErrUnknownColumn = errors.New("unknown column")

// Affinity is the SQLite storage class used to store a column's values.
// See https://www.sqlite.org/datatype3.html.
type Affinity string

const (
	Integer Affinity = "INTEGER"
	Text    Affinity = "TEXT"
	Real    Affinity = "REAL"
	Blob    Affinity = "BLOB"
	Numeric Affinity = "NUMERIC"
)

// Column describes one column of a table definition.
type Column struct {
	Name       string
	Affinity   Affinity
	Constraint string

	fieldIndex int
}

// Definition returns the column fragment used in CREATE TABLE, e.g.
// "id INTEGER PRIMARY KEY".
func (c Column) Definition() string {
	if c.Constraint == "" {
		return fmt.Sprintf("%s %s", c.Name, c.Affinity)
	}
	return fmt.Sprintf("%s %s %s", c.Name, c.Affinity, c.Constraint)
}

// Validator is implemented by row types that want per-row validation when
// scanned with the typed row factory.
type Validator interface {
	Validate() error
}

// Table is the definition-time descriptor binding the row type T to a
// SQLite table. It is immutable after construction and safe for concurrent
// use.
type Table[T any] struct {
	name   string
	cols   []Column
	byName map[string]int

	stmts stmtCache
}

// New builds the table descriptor for T. T must be a struct type; every
// exported field becomes a column unless tagged `db:"-"`. Construction
// fails if any field's affinity cannot be resolved, or if two fields map
// to the same column name.
func New[T any](name string) (*Table[T], error) {
	if name == "" {
		return nil, errors.New("schema: table name must not be empty")
	}

	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: row type %T is not a struct", zero)
	}

	t := &Table[T]{
		name:   name,
		byName: make(map[string]int),
	}
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		colName := strings.ToLower(field.Name)
		if tag, ok := field.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			colName = tag
		}
		if _, dup := t.byName[colName]; dup {
			return nil, fmt.Errorf("schema: duplicate column %q on table %q", colName, name)
		}

		aff, err := resolveAffinity(field)
		if err != nil {
			return nil, fmt.Errorf("schema: table %q field %s: %w", name, field.Name, err)
		}

		t.byName[colName] = len(t.cols)
		t.cols = append(t.cols, Column{
			Name:       colName,
			Affinity:   aff,
			Constraint: field.Tag.Get("constraint"),
			fieldIndex: i,
		})
	}
	if len(t.cols) == 0 {
		return nil, fmt.Errorf("schema: row type %s defines no columns", rt.Name())
	}
	return t, nil
}

// MustNew is New but panics on error. Intended for package-level table
// descriptors whose validity is a programming invariant.
func MustNew[T any](name string) *Table[T] {
	t, err := New[T](name)
	if err != nil {
		panic(err)
	}
	return t
}

// resolveAffinity picks the storage class for a struct field, preferring
// an explicit `affinity` tag over the field's Go type.
func resolveAffinity(field reflect.StructField) (Affinity, error) {
	if tag, ok := field.Tag.Lookup("affinity"); ok {
		switch aff := Affinity(strings.ToUpper(tag)); aff {
		case Integer, Text, Real, Blob, Numeric:
			return aff, nil
		default:
			return "", fmt.Errorf("invalid affinity tag %q", tag)
		}
	}
	return affinityOf(field.Type)
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	nullStringType = reflect.TypeOf(sql.NullString{})
	nullInt64Type  = reflect.TypeOf(sql.NullInt64{})
	nullFloatType  = reflect.TypeOf(sql.NullFloat64{})
	nullBoolType   = reflect.TypeOf(sql.NullBool{})
	nullTimeType   = reflect.TypeOf(sql.NullTime{})
)

func affinityOf(rt reflect.Type) (Affinity, error) {
	switch rt {
	case timeType, nullTimeType, nullStringType:
		return Text, nil
	case nullInt64Type, nullBoolType:
		return Integer, nil
	case nullFloatType:
		return Real, nil
	}

	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer, nil
	case reflect.Float32, reflect.Float64:
		return Real, nil
	case reflect.String:
		return Text, nil
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return Blob, nil
		}
	case reflect.Pointer:
		return affinityOf(rt.Elem())
	}
	return "", fmt.Errorf("no resolvable affinity for type %s", rt)
}

// Name returns the table name as used in composed statements.
func (t *Table[T]) Name() string { return t.name }

// Columns returns the ordered column descriptors.
func (t *Table[T]) Columns() []Column {
	out := make([]Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// ColumnNames returns the ordered column names.
func (t *Table[T]) ColumnNames() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table defines the named column.
func (t *Table[T]) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// CheckColumns verifies that every name refers to a defined column.
func (t *Table[T]) CheckColumns(names ...string) error {
	for _, n := range names {
		if _, ok := t.byName[n]; !ok {
			return fmt.Errorf("%w: %q on table %q", ErrUnknownColumn, n, t.name)
		}
	}
	return nil
}
