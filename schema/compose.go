// ABOUTME: Pure SQL statement composition from table metadata and call-site options.
// ABOUTME: Caches composed text for the hot statement shapes per table descriptor.

package schema

import (
	"fmt"
	"strings"
	"sync"
)

// ConflictAction selects the INSERT OR <action> fallback.
type ConflictAction string

const (
	ConflictNone     ConflictAction = ""
	ConflictAbort    ConflictAction = "ABORT"
	ConflictFail     ConflictAction = "FAIL"
	ConflictIgnore   ConflictAction = "IGNORE"
	ConflictReplace  ConflictAction = "REPLACE"
	ConflictRollback ConflictAction = "ROLLBACK"
)

// OrderBy orders a result on one column.
type OrderBy struct {
	Column string
	Desc   bool
}

// CreateOptions controls CREATE TABLE composition.
// See https://www.sqlite.org/lang_createtable.html.
type CreateOptions struct {
	IfNotExists  bool
	Temporary    bool
	Strict       bool
	WithoutRowid bool
}

// IndexOptions controls CREATE INDEX composition.
type IndexOptions struct {
	Name        string
	Columns     []OrderBy
	Unique      bool
	IfNotExists bool
}

// SelectOptions controls SELECT composition. An empty Columns projects the
// full declared column list in declaration order, which is what the typed
// row factory expects.
type SelectOptions struct {
	Columns  []string
	Distinct bool
	Count    bool
	Where    []string
	OrderBy  []OrderBy
	Limit    int
}

// InsertOptions controls INSERT composition. An empty Columns binds the
// full declared column list.
type InsertOptions struct {
	Columns      []string
	OnConflict   ConflictAction
	ReturningAll bool
}

// DeleteOptions controls DELETE composition.
type DeleteOptions struct {
	Where        []string
	OrderBy      []OrderBy
	Limit        int
	ReturningAll bool
}

// stmtCache memoizes composed statement text. Statement shapes are few and
// stable for a given table, so a plain map under RWMutex is enough.
type stmtCache struct {
	mu    sync.RWMutex
	cache map[string]string
}

func (c *stmtCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stmt, ok := c.cache[key]
	return stmt, ok
}

func (c *stmtCache) put(key, stmt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]string)
	}
	c.cache[key] = stmt
}

// cacheKey joins key parts with a control character that cannot appear
// in identifiers, so slice contents never collide across field
// boundaries the way a flat %v rendering can.
func cacheKey(parts ...string) string {
	return strings.Join(parts, "\x1e")
}

func colsKey(cols []string) string {
	return strings.Join(cols, "\x1f")
}

func orderKey(keys []OrderBy) string {
	elems := make([]string, len(keys))
	for i, k := range keys {
		elems[i] = fmt.Sprintf("%s=%t", k.Column, k.Desc)
	}
	return strings.Join(elems, "\x1f")
}

// CreateStmt composes the CREATE TABLE statement for this table.
func (t *Table[T]) CreateStmt(o CreateOptions) string {
	key := cacheKey("create",
		fmt.Sprintf("%t/%t/%t/%t", o.IfNotExists, o.Temporary, o.Strict, o.WithoutRowid))
	if stmt, ok := t.stmts.get(key); ok {
		return stmt
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if o.Temporary {
		b.WriteString("TEMPORARY ")
	}
	b.WriteString("TABLE ")
	if o.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(t.name)
	b.WriteString(" (")
	for i, col := range t.cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col.Definition())
	}
	b.WriteString(")")

	var opts []string
	if o.WithoutRowid {
		opts = append(opts, "WITHOUT ROWID")
	}
	if o.Strict {
		opts = append(opts, "STRICT")
	}
	if len(opts) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(opts, ", "))
	}
	b.WriteString(";")

	stmt := b.String()
	t.stmts.put(key, stmt)
	return stmt
}

// CreateIndexStmt composes a CREATE INDEX statement over this table's
// columns. At least one index column is required and every column must be
// defined on the table.
func (t *Table[T]) CreateIndexStmt(o IndexOptions) (string, error) {
	if o.Name == "" {
		return "", fmt.Errorf("schema: index on table %q needs a name", t.name)
	}
	if len(o.Columns) == 0 {
		return "", fmt.Errorf("schema: index %q needs at least one column", o.Name)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if o.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if o.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(o.Name)
	b.WriteString(" ON ")
	b.WriteString(t.name)
	b.WriteString(" (")
	for i, key := range o.Columns {
		if err := t.CheckColumns(key.Column); err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(key.Column)
		if key.Desc {
			b.WriteString(" DESC")
		}
	}
	b.WriteString(");")
	return b.String(), nil
}

// SelectStmt composes a SELECT statement. All placeholders are positional
// and correspond to the Where columns in the given order.
func (t *Table[T]) SelectStmt(o SelectOptions) (string, error) {
	key := cacheKey("select",
		colsKey(o.Columns),
		fmt.Sprintf("%t/%t/%d", o.Distinct, o.Count, o.Limit),
		colsKey(o.Where),
		orderKey(o.OrderBy))
	if stmt, ok := t.stmts.get(key); ok {
		return stmt, nil
	}

	if err := t.CheckColumns(o.Columns...); err != nil {
		return "", err
	}
	if err := t.CheckColumns(o.Where...); err != nil {
		return "", err
	}

	projection := strings.Join(t.ColumnNames(), ", ")
	if len(o.Columns) > 0 {
		projection = strings.Join(o.Columns, ", ")
	}
	if o.Count {
		projection = fmt.Sprintf("count(%s)", projection)
		if len(o.Columns) == 0 {
			projection = "count(*)"
		}
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if o.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(projection)
	b.WriteString(" FROM ")
	b.WriteString(t.name)
	writeWhere(&b, o.Where)
	if err := t.writeOrderBy(&b, o.OrderBy); err != nil {
		return "", err
	}
	writeLimit(&b, o.Limit)
	b.WriteString(";")

	stmt := b.String()
	t.stmts.put(key, stmt)
	return stmt, nil
}

// InsertStmt composes an INSERT statement binding either the given columns
// or the full declared column list.
func (t *Table[T]) InsertStmt(o InsertOptions) (string, error) {
	key := cacheKey("insert",
		colsKey(o.Columns),
		string(o.OnConflict),
		fmt.Sprintf("%t", o.ReturningAll))
	if stmt, ok := t.stmts.get(key); ok {
		return stmt, nil
	}

	cols := o.Columns
	if len(cols) == 0 {
		cols = t.ColumnNames()
	} else if err := t.CheckColumns(cols...); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("INSERT ")
	if o.OnConflict != ConflictNone {
		b.WriteString("OR ")
		b.WriteString(string(o.OnConflict))
		b.WriteString(" ")
	}
	b.WriteString("INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(placeholders(len(cols)))
	b.WriteString(")")
	if o.ReturningAll {
		b.WriteString(" RETURNING ")
		b.WriteString(strings.Join(t.ColumnNames(), ", "))
	}
	b.WriteString(";")

	stmt := b.String()
	t.stmts.put(key, stmt)
	return stmt, nil
}

// UpdateStmt composes an UPDATE template assigning setCols and filtering
// on whereCols; bind order is setCols then whereCols.
func (t *Table[T]) UpdateStmt(setCols, whereCols []string) (string, error) {
	if len(setCols) == 0 {
		return "", fmt.Errorf("schema: update on table %q needs at least one set column", t.name)
	}
	if err := t.CheckColumns(setCols...); err != nil {
		return "", err
	}
	if err := t.CheckColumns(whereCols...); err != nil {
		return "", err
	}

	assignments := make([]string, len(setCols))
	for i, col := range setCols {
		assignments[i] = col + " = ?"
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(t.name)
	b.WriteString(" SET ")
	b.WriteString(strings.Join(assignments, ", "))
	writeWhere(&b, whereCols)
	b.WriteString(";")
	return b.String(), nil
}

// DeleteStmt composes a DELETE statement. ORDER BY and LIMIT on DELETE
// require an engine built with SQLITE_ENABLE_UPDATE_DELETE_LIMIT.
func (t *Table[T]) DeleteStmt(o DeleteOptions) (string, error) {
	if err := t.CheckColumns(o.Where...); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(t.name)
	writeWhere(&b, o.Where)
	if err := t.writeOrderBy(&b, o.OrderBy); err != nil {
		return "", err
	}
	writeLimit(&b, o.Limit)
	if o.ReturningAll {
		b.WriteString(" RETURNING ")
		b.WriteString(strings.Join(t.ColumnNames(), ", "))
	}
	b.WriteString(";")
	return b.String(), nil
}

// PaginatedScanStmt composes the rowid-seek statement used by the
// paginated full scan: all declared columns prefixed with rowid, filtered
// on rowid > ?, in rowid order, limited to one batch. Only valid for
// tables stored with a rowid.
func (t *Table[T]) PaginatedScanStmt(batchSize int) string {
	return fmt.Sprintf(
		"SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT %d;",
		strings.Join(t.ColumnNames(), ", "), t.name, batchSize,
	)
}

func writeWhere(b *strings.Builder, cols []string) {
	if len(cols) == 0 {
		return
	}
	conditions := make([]string, len(cols))
	for i, col := range cols {
		conditions[i] = col + " = ?"
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(conditions, " AND "))
}

func (t *Table[T]) writeOrderBy(b *strings.Builder, keys []OrderBy) error {
	if len(keys) == 0 {
		return nil
	}
	terms := make([]string, len(keys))
	for i, key := range keys {
		if err := t.CheckColumns(key.Column); err != nil {
			return err
		}
		terms[i] = key.Column
		if key.Desc {
			terms[i] += " DESC"
		}
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(terms, ", "))
	return nil
}

func writeLimit(b *strings.Builder, limit int) {
	if limit > 0 {
		fmt.Fprintf(b, " LIMIT %d", limit)
	}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Placeholders counts the bind parameters in a statement, skipping
// quoted string literals: positional `?` markers plus distinct named
// parameters (`:name`, `@name`, `$name` — each bound once however often
// it repeats). Used to validate bind arity before an engine call.
func Placeholders(stmt string) int {
	count := 0
	var named map[string]struct{}
	var quote byte
	for i := 0; i < len(stmt); i++ {
		ch := stmt[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '?':
			count++
		case ch == ':' || ch == '@' || ch == '$':
			j := i + 1
			for j < len(stmt) && isParamChar(stmt[j]) {
				j++
			}
			if j > i+1 {
				if named == nil {
					named = make(map[string]struct{})
				}
				named[stmt[i:j]] = struct{}{}
				i = j - 1
			}
		}
	}
	return count + len(named)
}

func isParamChar(ch byte) bool {
	return ch == '_' ||
		('0' <= ch && ch <= '9') ||
		('a' <= ch && ch <= 'z') ||
		('A' <= ch && ch <= 'Z')
}
