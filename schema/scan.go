// ABOUTME: Row factories converting engine rows to typed values, plus bind-arg extraction.
// ABOUTME: The typed factory scans positionally into T and optionally runs its Validate hook.

package schema

import (
	"database/sql"
	"fmt"
	"reflect"
)

// RowFactory converts one raw engine row (column names plus scanned
// values) into a caller-defined representation of T. Supplying one
// replaces the default typed scan.
type RowFactory[T any] func(columns []string, values []any) (T, error)

// Values returns the bind arguments for all declared columns of row, in
// declaration order. It pairs with InsertStmt over the full column list.
func (t *Table[T]) Values(row T) []any {
	v := reflect.ValueOf(row)
	args := make([]any, len(t.cols))
	for i, col := range t.cols {
		args[i] = v.Field(col.fieldIndex).Interface()
	}
	return args
}

// FieldValues returns the bind arguments for the named columns of row, in
// the given order.
func (t *Table[T]) FieldValues(row T, cols []string) ([]any, error) {
	if err := t.CheckColumns(cols...); err != nil {
		return nil, err
	}
	v := reflect.ValueOf(row)
	args := make([]any, len(cols))
	for i, name := range cols {
		args[i] = v.Field(t.cols[t.byName[name]].fieldIndex).Interface()
	}
	return args, nil
}

// ScanRow constructs a T from the current cursor row. The result set must
// project the declared columns in declaration order (what SelectStmt with
// an empty projection produces). When validate is set and T implements
// Validator, the constructed row is validated before being returned.
func (t *Table[T]) ScanRow(rows *sql.Rows, validate bool) (T, error) {
	return t.scanInto(rows, validate, nil)
}

// ScanRowOffset is ScanRow with extra leading result columns (such as the
// rowid cursor of a paginated scan) scanned into discard destinations.
func (t *Table[T]) ScanRowOffset(rows *sql.Rows, validate bool, leading ...any) (T, error) {
	return t.scanInto(rows, validate, leading)
}

func (t *Table[T]) scanInto(rows *sql.Rows, validate bool, leading []any) (T, error) {
	var row T
	v := reflect.ValueOf(&row).Elem()

	// Plain value fields go through an untyped intermediate so a NULL
	// becomes the field's zero value instead of a scan error. Scanner
	// implementations and pointer fields carry their own NULL handling
	// and are bound directly.
	raw := make([]any, len(t.cols))
	direct := make([]bool, len(t.cols))
	dests := make([]any, 0, len(leading)+len(t.cols))
	dests = append(dests, leading...)
	for i, col := range t.cols {
		f := v.Field(col.fieldIndex)
		if scansDirectly(f) {
			direct[i] = true
			dests = append(dests, f.Addr().Interface())
		} else {
			dests = append(dests, &raw[i])
		}
	}
	if err := rows.Scan(dests...); err != nil {
		return row, fmt.Errorf("scanning row of %s: %w", t.name, err)
	}
	for i, col := range t.cols {
		if direct[i] {
			continue
		}
		if err := assignValue(v.Field(col.fieldIndex), raw[i]); err != nil {
			return row, fmt.Errorf("scanning column %s of %s: %w", col.Name, t.name, err)
		}
	}

	if validate {
		if val, ok := any(&row).(Validator); ok {
			if err := val.Validate(); err != nil {
				return row, fmt.Errorf("validating row of %s: %w", t.name, err)
			}
		}
	}
	return row, nil
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

func scansDirectly(f reflect.Value) bool {
	if f.Addr().Type().Implements(scannerType) {
		return true
	}
	return f.Kind() == reflect.Pointer || f.Type() == timeType
}

// assignValue stores a driver-produced value into a struct field. NULL
// leaves the field at its zero value.
func assignValue(field reflect.Value, v any) error {
	if v == nil {
		field.SetZero()
		return nil
	}
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch x := v.(type) {
		case int64:
			field.SetInt(x)
		case float64:
			field.SetInt(int64(x))
		default:
			return conversionError(field, v)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch x := v.(type) {
		case int64:
			field.SetUint(uint64(x))
		case float64:
			field.SetUint(uint64(x))
		default:
			return conversionError(field, v)
		}
	case reflect.Bool:
		switch x := v.(type) {
		case bool:
			field.SetBool(x)
		case int64:
			field.SetBool(x != 0)
		default:
			return conversionError(field, v)
		}
	case reflect.Float32, reflect.Float64:
		switch x := v.(type) {
		case float64:
			field.SetFloat(x)
		case int64:
			field.SetFloat(float64(x))
		default:
			return conversionError(field, v)
		}
	case reflect.String:
		switch x := v.(type) {
		case string:
			field.SetString(x)
		case []byte:
			field.SetString(string(x))
		default:
			return conversionError(field, v)
		}
	case reflect.Slice:
		switch x := v.(type) {
		case []byte:
			field.SetBytes(append([]byte(nil), x...))
		case string:
			field.SetBytes([]byte(x))
		default:
			return conversionError(field, v)
		}
	default:
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(field.Type()) {
			return conversionError(field, v)
		}
		field.Set(rv)
	}
	return nil
}

func conversionError(field reflect.Value, v any) error {
	return fmt.Errorf("cannot store %T into %s", v, field.Type())
}
