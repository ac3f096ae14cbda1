// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package engine ties the catalog, the circuit builder, the SQL
// compiler and the source adapters together into the single
// embeddable type this module exposes to applications: a script of
// CREATE TABLE / CREATE VIEW statements declares the schema, Push
// feeds a table's batches in, and View reads back a view's running
// materialization.
package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sneltrix/ivm/circuit"
	"github.com/sneltrix/ivm/config"
	"github.com/sneltrix/ivm/heap"
	"github.com/sneltrix/ivm/ints"
	"github.com/sneltrix/ivm/ivmerr"
	"github.com/sneltrix/ivm/row"
	"github.com/sneltrix/ivm/source"
	"github.com/sneltrix/ivm/sql"
	"github.com/sneltrix/ivm/zset"
)

// table is the engine's bookkeeping record for one declared
// CREATE TABLE.
type table struct {
	schema  *row.Schema
	pkCols  []int
	opts    config.TableOptions
	adapter *source.Adapter
	source  circuit.NodeID
}

// view is the engine's bookkeeping record for one declared
// CREATE VIEW.
type view struct {
	schema *row.Schema
	opts   config.ViewOptions
	order  *sql.RowOrder
	limit  *sql.LimitSpec
}

// Engine is a built (or buildable) incremental view maintenance
// database: a catalog of tables, a set of compiled views sharing
// one circuit, and the running materialization of each view.
type Engine struct {
	log *slog.Logger

	builder *circuit.Builder
	circuit *circuit.Circuit

	catalog sql.Catalog
	tables  map[string]*table
	views   map[string]*view

	materialized map[string]*zset.Set
	overflow     map[string]bool
}

// New returns an empty engine. A nil logger defaults to
// slog.Default(): logging is a diagnostic seam, not a required
// collaborator, so the engine never insists on one.
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:          log,
		builder:      circuit.NewBuilder(),
		catalog:      sql.Catalog{},
		tables:       make(map[string]*table),
		views:        make(map[string]*view),
		materialized: make(map[string]*zset.Set),
		overflow:     make(map[string]bool),
	}
}

// Exec parses script as a sequence of CREATE TABLE / CREATE VIEW
// statements and applies each in order. It must be called before
// Build; tables must be declared before any view that reads them.
func (e *Engine) Exec(script string) error {
	stmts, err := sql.ParseScript(script)
	if err != nil {
		return err
	}
	for _, n := range stmts {
		switch s := n.(type) {
		case *sql.CreateTableStmt:
			if err := e.CreateTable(s); err != nil {
				return err
			}
		case *sql.CreateViewStmt:
			if err := e.CreateView(s); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: script statements must be CREATE TABLE or CREATE VIEW", ivmerr.ErrUnsupportedSQL)
		}
	}
	return nil
}

// CreateTable registers a table's schema, primary key and source
// adapter, and declares its circuit source node.
func (e *Engine) CreateTable(stmt *sql.CreateTableStmt) error {
	if _, exists := e.tables[stmt.Name]; exists {
		return fmt.Errorf("%w: table %q already declared", ivmerr.ErrSchemaMismatch, stmt.Name)
	}
	cols := make([]row.Column, len(stmt.Columns))
	for i, c := range stmt.Columns {
		kind, err := typeToKind(c.Type)
		if err != nil {
			return fmt.Errorf("table %q: %w", stmt.Name, err)
		}
		cols[i] = row.Column{Name: c.Name, Kind: kind}
	}
	schema := &row.Schema{Columns: cols}

	optMap, err := optionsToMap(stmt.Options)
	if err != nil {
		return fmt.Errorf("table %q: %w", stmt.Name, err)
	}
	opts, err := config.TableOptionsFromMap(optMap)
	if err != nil {
		return fmt.Errorf("table %q: %w", stmt.Name, err)
	}
	pkCols := make([]int, len(opts.Key))
	for i, name := range opts.Key {
		idx := schema.Index(name)
		if idx < 0 {
			return fmt.Errorf("%w: table %q: primary key column %q not declared", ivmerr.ErrSchemaMismatch, stmt.Name, name)
		}
		pkCols[i] = idx
	}

	e.catalog[stmt.Name] = schema
	src := e.builder.Source(stmt.Name)
	e.tables[stmt.Name] = &table{
		schema:  schema,
		pkCols:  pkCols,
		opts:    opts,
		adapter: source.NewAdapter(stmt.Name, schema, pkCols, opts.MaxRows),
		source:  src,
	}
	e.log.Info("table declared", "table", stmt.Name, "columns", len(cols), "key", opts.Key)
	return nil
}

// CreateView compiles stmt's query to a logical plan, emits it
// onto the shared circuit builder, and registers it as a named
// sink whose running materialization Push/Step maintains.
func (e *Engine) CreateView(stmt *sql.CreateViewStmt) error {
	if _, exists := e.views[stmt.Name]; exists {
		return fmt.Errorf("%w: view %q already declared", ivmerr.ErrSchemaMismatch, stmt.Name)
	}
	optMap, err := optionsToMap(stmt.Options)
	if err != nil {
		return fmt.Errorf("view %q: %w", stmt.Name, err)
	}
	opts, err := config.ViewOptionsFromMap(optMap)
	if err != nil {
		return fmt.Errorf("view %q: %w", stmt.Name, err)
	}

	plan, err := sql.BuildPlan(e.catalog, stmt.Query)
	if err != nil {
		return fmt.Errorf("view %q: %w", stmt.Name, err)
	}

	sources := make(map[string]circuit.NodeID, len(e.tables))
	for name, t := range e.tables {
		sources[name] = t.source
	}
	emitter := sql.NewEmitter(e.builder, sources, opts)
	node, err := emitter.Emit(plan)
	if err != nil {
		return fmt.Errorf("view %q: %w", stmt.Name, err)
	}
	e.builder.Sink(stmt.Name, node)

	orderItems, limit := sql.PlanOrderLimit(plan)
	var order *sql.RowOrder
	if len(orderItems) > 0 {
		order, err = sql.CompileOrderBy(plan.Schema(), orderItems)
		if err != nil {
			return fmt.Errorf("view %q: %w", stmt.Name, err)
		}
	}

	e.views[stmt.Name] = &view{schema: plan.Schema(), opts: opts, order: order, limit: limit}
	e.materialized[stmt.Name] = zset.Empty()
	e.log.Info("view declared", "view", stmt.Name, "joinMode", opts.JoinMode, "maxResults", opts.MaxResults)
	return nil
}

// Build finalizes the circuit from every table and view declared
// so far. It must be called exactly once, after the last CreateView
// call and before the first Push.
func (e *Engine) Build() error {
	c, err := e.builder.Build()
	if err != nil {
		return err
	}
	e.circuit = c
	return nil
}

// Push converts batch into a Z-set delta for table and advances
// the circuit by one step, returning the delta each declared view
// produced. Each Push is its own atomic step, so two batches pushed
// in sequence are observed by subscribers (here, the returned
// per-view deltas) in that same order.
func (e *Engine) Push(table string, batch source.Batch) (map[string]*zset.Set, error) {
	if e.circuit == nil {
		return nil, fmt.Errorf("%w: engine not built", ivmerr.ErrCircuitBuild)
	}
	t, ok := e.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ivmerr.ErrSchemaMismatch, table)
	}
	delta, err := t.adapter.Apply(batch)
	if err != nil {
		return nil, err
	}
	return e.step(map[string]*zset.Set{table: delta})
}

func (e *Engine) step(inputs map[string]*zset.Set) (map[string]*zset.Set, error) {
	out := make(map[string]*zset.Set, len(e.views))
	err := e.circuit.Step(inputs, func(viewName string, delta *zset.Set) {
		out[viewName] = delta
		mat := e.materialized[viewName]
		mat.Apply(delta)
		if v := e.views[viewName]; v.opts.MaxResults > 0 && mat.Size() > v.opts.MaxResults {
			e.overflow[viewName] = true
			e.log.Warn("view exceeded maxResults", "view", viewName, "size", mat.Size(), "maxResults", v.opts.MaxResults)
		}
	})
	if err != nil {
		e.log.Error("circuit step failed", "error", err)
		return nil, err
	}
	return out, nil
}

// View returns view's current running materialization (the
// running sum of every delta it has ever produced) and whether it
// has ever overflowed its maxResults cap.
func (e *Engine) View(name string) (*zset.Set, bool, error) {
	if _, ok := e.views[name]; !ok {
		return nil, false, fmt.Errorf("%w: unknown view %q", ivmerr.ErrSchemaMismatch, name)
	}
	return e.materialized[name], e.overflow[name], nil
}

// Rows returns view's current materialization as a row slice with
// its declared ORDER BY applied and its LIMIT/OFFSET window sliced
// out; both are resolved here, at the materialization-read
// boundary, rather than inside the circuit. A row with multiplicity
// w in the materialized Z-set appears w times. Views with no ORDER
// BY are returned in the Z-set's unspecified entry order.
func (e *Engine) Rows(name string) ([]row.Row, bool, error) {
	v, ok := e.views[name]
	if !ok {
		return nil, false, fmt.Errorf("%w: unknown view %q", ivmerr.ErrSchemaMismatch, name)
	}
	mat := e.materialized[name]
	rows := make([]row.Row, 0, mat.Size())
	mat.Entries(func(r row.Row, w int64) {
		for i := int64(0); i < w; i++ {
			rows = append(rows, r)
		}
	})

	if v.order != nil {
		rows = topK(rows, v.order, v.limit)
	}

	window := ints.Interval{Start: 0, End: len(rows)}
	if v.limit != nil {
		start := 0
		if v.limit.Offset != nil {
			start = int(*v.limit.Offset)
		}
		end := len(rows)
		if v.limit.Limit != nil {
			end = start + int(*v.limit.Limit)
		}
		window = window.Intersect(ints.Interval{Start: start, End: end})
	}

	out := make([]row.Row, 0, window.Len())
	window.Each(func(i int) { out = append(out, rows[i]) })
	return out, e.overflow[name], nil
}

// topK sorts rows by order. When limit bounds the result to a
// prefix of k = offset+limit rows that is small relative to
// len(rows), it serves the request from a bounded heap.Topk of the k
// best candidates (github.com/sneltrix/ivm/heap) instead of sorting
// the whole materialization.
func topK(rows []row.Row, order *sql.RowOrder, limit *sql.LimitSpec) []row.Row {
	k := len(rows)
	if limit != nil && limit.Limit != nil {
		k = int(*limit.Limit)
		if limit.Offset != nil {
			k += int(*limit.Offset)
		}
	}
	if limit == nil || limit.Limit == nil || k <= 0 || k >= len(rows) {
		sort.SliceStable(rows, func(i, j int) bool { return order.Less(rows[i], rows[j]) })
		return rows
	}

	h := heap.NewTopk(k, order.Less)
	for _, r := range rows {
		h.Offer(r)
	}
	return h.Sorted()
}

// ViewSchema returns the declared output schema of view.
func (e *Engine) ViewSchema(name string) (*row.Schema, error) {
	v, ok := e.views[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown view %q", ivmerr.ErrSchemaMismatch, name)
	}
	return v.schema, nil
}

// TableSchema returns the declared schema of table.
func (e *Engine) TableSchema(name string) (*row.Schema, error) {
	t, ok := e.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown table %q", ivmerr.ErrSchemaMismatch, name)
	}
	return t.schema, nil
}

// TableOverflow reports whether table has ever rejected an insert
// for exceeding its configured maxRows, and the total number of
// distinct primary keys ever inserted (including rejected ones).
func (e *Engine) TableOverflow(name string) (overflowed bool, count int, err error) {
	t, ok := e.tables[name]
	if !ok {
		return false, 0, fmt.Errorf("%w: unknown table %q", ivmerr.ErrSchemaMismatch, name)
	}
	return t.adapter.Overflowed(), t.adapter.Count(), nil
}

// Dispose releases the circuit's operator state atomically. The
// engine's catalog and declared tables/views remain; a fresh Build
// is required before Push can be called again.
func (e *Engine) Dispose() {
	if e.circuit != nil {
		e.circuit.Dispose()
	}
	e.circuit = nil
	for name := range e.materialized {
		e.materialized[name] = zset.Empty()
	}
	for name := range e.overflow {
		delete(e.overflow, name)
	}
}

func typeToKind(t string) (row.Kind, error) {
	switch strings.ToUpper(t) {
	case "INT", "INTEGER":
		return row.Int, nil
	case "FLOAT", "DOUBLE":
		return row.Float, nil
	case "TEXT", "STRING", "VARCHAR":
		return row.Text, nil
	case "BOOLEAN", "BOOL":
		return row.Bool, nil
	case "DATETIME", "DATE", "TIMESTAMP":
		return row.DateTime, nil
	case "DECIMAL", "NUMERIC":
		// treated as FLOAT; no fixed-point precision guarantees are made.
		return row.Float, nil
	}
	return 0, fmt.Errorf("%w: unknown column type %q", ivmerr.ErrSchemaMismatch, t)
}

// optionsToMap evaluates a WITH clause's literal option values
// into a generic bag config.ViewOptionsFromMap/TableOptionsFromMap
// can decode, without a second parser. "key" is additionally split
// on commas, since parseCreateTable's PRIMARY KEY rewrite and a
// hand-written WITH (key = '...') clause both carry a composite
// key as one comma-joined string.
func optionsToMap(opts []sql.Option) (map[string]any, error) {
	m := make(map[string]any, len(opts))
	for _, o := range opts {
		v, err := literalValue(o.Value)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", o.Name, err)
		}
		if o.Name == "key" {
			if s, ok := v.(string); ok {
				parts := strings.Split(s, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				m[o.Name] = parts
				continue
			}
		}
		m[o.Name] = v
	}
	return m, nil
}

func literalValue(n sql.Node) (any, error) {
	switch v := n.(type) {
	case *sql.IntLit:
		return v.Value, nil
	case *sql.FloatLit:
		return v.Value, nil
	case *sql.StringLit:
		return v.Value, nil
	case *sql.BoolLit:
		return v.Value, nil
	}
	return nil, fmt.Errorf("unsupported option value %T", n)
}
