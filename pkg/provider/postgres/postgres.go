// Package postgres implements the Strata provider contract for PostgreSQL
// tables using keyset pagination.
//
// Reads order by a configured cursor column (plus an optional tiebreaker
// column) ascending and resume with a composite tuple comparison
// (cursor, tiebreaker) > (last cursor, last tiebreaker), which guarantees
// strict forward progress even when cursor values repeat. Without a
// tiebreaker column, rows sharing the last-seen cursor value may be yielded
// again on resume; this is a documented gap, not auto-corrected.
//
// Writes issue one multi-row INSERT per chunk of at most the configured batch
// size, in chunk order. Chunks already inserted stay committed when a later
// chunk fails; plain inserts are not idempotent per item, so retrying a
// partially failed write may duplicate rows.
package postgres

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/strataio/strata/pkg/logger"
	"github.com/strataio/strata/pkg/metrics"
	"github.com/strataio/strata/pkg/models"
	"github.com/strataio/strata/pkg/provider/core"
	"github.com/strataio/strata/pkg/strataerrors"
)

const (
	defaultBatchSize = 1000
	defaultSchema    = "public"

	// Bounded pool shared by all read/write calls on one provider.
	poolMinConns = 1
	poolMaxConns = 10
)

// Credentials locates and authenticates a PostgreSQL database.
type Credentials struct {
	// ConnectionString is a pgx-compatible URL or DSN.
	ConnectionString string
}

// Params is the immutable configuration for one provider instance.
type Params struct {
	// Table is the target table name (required).
	Table string
	// Schema is the table's schema; defaults to "public".
	Schema string
	// CursorColumn orders reads and carries the resumption cursor
	// (required for Read).
	CursorColumn string
	// TiebreakerColumn disambiguates rows sharing a cursor value. Optional;
	// see the package docs for resumption behavior without one.
	TiebreakerColumn string
	// Columns restricts reads to the named columns. Empty means all columns.
	// When set, it must include CursorColumn and TiebreakerColumn.
	Columns []string
	// BatchSize bounds both read pages and write chunks; defaults to 1000.
	BatchSize int
}

func (p *Params) withDefaults() {
	if p.Schema == "" {
		p.Schema = defaultSchema
	}
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
}

func (p *Params) validate() error {
	if p.Table == "" {
		return strataerrors.New(strataerrors.KindInvalidInput, "table is required")
	}
	if len(p.Columns) > 0 && p.CursorColumn != "" && !containsColumn(p.Columns, p.CursorColumn) {
		return strataerrors.New(strataerrors.KindInvalidInput, "columns must include the cursor column")
	}
	if len(p.Columns) > 0 && p.TiebreakerColumn != "" && !containsColumn(p.Columns, p.TiebreakerColumn) {
		return strataerrors.New(strataerrors.KindInvalidInput, "columns must include the tiebreaker column")
	}
	return nil
}

// Position is the resumable cursor for a table read: the last-seen values of
// the cursor column and, when configured, the tiebreaker column. A zero
// Position reads from the beginning.
type Position struct {
	Cursor     interface{} `json:"cursor,omitempty"`
	Tiebreaker interface{} `json:"tiebreaker,omitempty"`
}

// db is the slice of pgxpool.Pool the provider depends on.
type db interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Provider is a connected handle to one PostgreSQL table.
type Provider struct {
	name      string
	params    Params
	db        db
	logger    *zap.Logger
	collector *metrics.Collector

	mu     sync.Mutex
	closed bool
}

var (
	_ core.Provider                        = (*Provider)(nil)
	_ core.DataInput[models.Row, Position] = (*Provider)(nil)
	_ core.DataOutput[models.Row]          = (*Provider)(nil)
)

// Connect establishes a bounded connection pool and verifies the target table
// exists. Fails with CONNECTION when the transport cannot be established and
// NOT_FOUND when the table is absent.
func Connect(ctx context.Context, creds Credentials, params Params) (*Provider, error) {
	params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(creds.ConnectionString)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindInvalidInput, "failed to parse connection string")
	}
	poolCfg.MinConns = poolMinConns
	poolCfg.MaxConns = poolMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, strataerrors.Wrap(err, strataerrors.KindConnection, "failed to reach postgres")
	}

	p := newProvider(pool, params)

	if err := p.verifyTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	p.logger.Info("postgres provider connected",
		zap.String("table", params.Table),
		zap.String("schema", params.Schema),
		zap.Int("batch_size", params.BatchSize))

	return p, nil
}

// newProvider wires a provider over any db implementation. Tests use it with
// a fake; Connect uses it with a pgxpool.Pool.
func newProvider(database db, params Params) *Provider {
	params.withDefaults()
	return &Provider{
		name:      "postgres",
		params:    params,
		db:        database,
		logger:    logger.Get().With(zap.String("provider", "postgres"), zap.String("table", params.Table)),
		collector: metrics.NewCollector(params.Table, "postgres"),
	}
}

// Name implements core.Provider.
func (p *Provider) Name() string { return p.name }

// Family implements core.Provider.
func (p *Provider) Family() core.Family { return core.FamilyRelational }

// Ping implements core.Provider.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return classify(err, "postgres ping failed")
	}
	return nil
}

// Close releases the connection pool. Idempotent.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.db.Close()
	p.closed = true
	p.logger.Info("postgres provider closed")
	return nil
}

func (p *Provider) verifyTable(ctx context.Context) error {
	qualified := p.params.Schema + "." + p.params.Table

	var reg *string
	err := p.db.QueryRow(ctx, "SELECT to_regclass($1)::text", qualified).Scan(&reg)
	if err != nil {
		return classify(err, "failed to check table existence")
	}
	if reg == nil {
		return strataerrors.Newf(strataerrors.KindNotFound, "table %s does not exist", qualified)
	}
	return nil
}

// Read streams rows ordered by the cursor column (and tiebreaker, when
// configured), starting strictly after pos. Each yielded pair carries the
// position to resume from after that row.
func (p *Provider) Read(ctx context.Context, pos Position) (*core.Stream[models.Row, Position], error) {
	if p.params.CursorColumn == "" {
		return nil, strataerrors.New(strataerrors.KindInvalidInput, "cursor_column is required for reads")
	}

	stream, emitter := core.NewStream[models.Row, Position](p.params.BatchSize)

	go func() {
		defer emitter.Close()
		p.streamRows(ctx, pos, emitter)
	}()

	return stream, nil
}

func (p *Provider) streamRows(ctx context.Context, pos Position, emitter *core.Emitter[models.Row, Position]) {
	for {
		query, args := p.buildPageQuery(pos)

		rows, err := p.db.Query(ctx, query, args...)
		if err != nil {
			p.failStream(emitter, classify(err, "failed to execute page query"))
			return
		}

		count, last, err := p.drainPage(ctx, rows, emitter)
		if err != nil {
			p.failStream(emitter, err)
			return
		}
		if count < 0 {
			// Consumer went away; nothing to report.
			return
		}

		p.collector.RecordRead(count)

		if count < p.params.BatchSize {
			return
		}
		pos = last
	}
}

// drainPage yields one page of rows. Returns the number of rows yielded and
// the position after the last one; count is -1 when the consumer cancelled.
func (p *Provider) drainPage(ctx context.Context, rows pgx.Rows, emitter *core.Emitter[models.Row, Position]) (int, Position, error) {
	defer rows.Close()

	var last Position
	count := 0

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return count, last, classify(err, "failed to read row values")
		}

		row := rowFromValues(fields, values)

		next := Position{Cursor: row[p.params.CursorColumn]}
		if p.params.TiebreakerColumn != "" {
			next.Tiebreaker = row[p.params.TiebreakerColumn]
		}

		if !emitter.Send(ctx, row, next) {
			return -1, last, nil
		}
		count++
		last = next
	}

	if err := rows.Err(); err != nil {
		return count, last, classify(err, "row iteration failed")
	}
	return count, last, nil
}

// buildPageQuery renders one keyset page: ordered by (cursor[, tiebreaker])
// ascending, filtered strictly after pos when pos carries a cursor.
func (p *Provider) buildPageQuery(pos Position) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString("SELECT ")
	if len(p.params.Columns) > 0 {
		for i, col := range p.params.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(quoteIdent(col))
		}
	} else {
		sb.WriteString("*")
	}

	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(p.params.Schema))
	sb.WriteString(".")
	sb.WriteString(quoteIdent(p.params.Table))

	if pos.Cursor != nil {
		if p.params.TiebreakerColumn != "" {
			sb.WriteString(" WHERE (")
			sb.WriteString(quoteIdent(p.params.CursorColumn))
			sb.WriteString(", ")
			sb.WriteString(quoteIdent(p.params.TiebreakerColumn))
			sb.WriteString(") > ($1, $2)")
			args = append(args, pos.Cursor, pos.Tiebreaker)
		} else {
			sb.WriteString(" WHERE ")
			sb.WriteString(quoteIdent(p.params.CursorColumn))
			sb.WriteString(" > $1")
			args = append(args, pos.Cursor)
		}
	}

	sb.WriteString(" ORDER BY ")
	sb.WriteString(quoteIdent(p.params.CursorColumn))
	if p.params.TiebreakerColumn != "" {
		sb.WriteString(", ")
		sb.WriteString(quoteIdent(p.params.TiebreakerColumn))
	}

	sb.WriteString(" LIMIT ")
	sb.WriteString(strconv.Itoa(p.params.BatchSize))

	return sb.String(), args
}

// Write inserts rows in chunks of at most the configured batch size, one
// multi-row INSERT per chunk, in order. All rows must share the same column
// set. Empty input is a no-op.
func (p *Provider) Write(ctx context.Context, items []models.Row) error {
	if len(items) == 0 {
		return nil
	}

	columns := sortedColumns(items[0])
	if len(columns) == 0 {
		return strataerrors.New(strataerrors.KindInvalidInput, "rows must have at least one column")
	}
	for i, item := range items {
		if !sameColumns(item, columns) {
			return strataerrors.Newf(strataerrors.KindInvalidInput, "row %d has mismatched columns", i)
		}
	}

	timer := p.collector.StartTimer("write")
	defer timer.Stop()

	for _, chunk := range core.Chunks(items, p.params.BatchSize) {
		query, args := p.buildInsert(columns, chunk)
		if _, err := p.db.Exec(ctx, query, args...); err != nil {
			cerr := classify(err, "bulk insert failed")
			p.collector.RecordError(string(cerr.Kind))
			return cerr
		}
		p.collector.RecordWrite(len(chunk))
	}

	p.logger.Debug("rows written", zap.Int("count", len(items)))
	return nil
}

func (p *Provider) buildInsert(columns []string, chunk []models.Row) (string, []interface{}) {
	var sb strings.Builder

	sb.WriteString("INSERT INTO ")
	sb.WriteString(quoteIdent(p.params.Schema))
	sb.WriteString(".")
	sb.WriteString(quoteIdent(p.params.Table))
	sb.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(col))
	}
	sb.WriteString(") VALUES ")

	args := make([]interface{}, 0, len(chunk)*len(columns))
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, row[col])
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(len(args)))
		}
		sb.WriteString(")")
	}

	return sb.String(), args
}

// Exec runs an arbitrary statement against the connected database and returns
// the number of rows affected. It is an escape hatch for DDL and maintenance
// statements that the structured Read/Write surface does not cover.
func (p *Provider) Exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err, "failed to execute statement")
	}
	return tag.RowsAffected(), nil
}

// FetchOne runs an arbitrary query and returns its first row, or nil when the
// query matches nothing.
func (p *Provider) FetchOne(ctx context.Context, sql string, args ...interface{}) (models.Row, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "failed to execute query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, classify(err, "row iteration failed")
		}
		return nil, nil
	}

	values, err := rows.Values()
	if err != nil {
		return nil, classify(err, "failed to read row values")
	}
	return rowFromValues(fields, values), nil
}

// FetchAll runs an arbitrary query and returns every matching row.
func (p *Provider) FetchAll(ctx context.Context, sql string, args ...interface{}) ([]models.Row, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "failed to execute query")
	}
	defer rows.Close()

	var out []models.Row
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify(err, "failed to read row values")
		}
		out = append(out, rowFromValues(fields, values))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "row iteration failed")
	}
	return out, nil
}

func (p *Provider) failStream(emitter *core.Emitter[models.Row, Position], err error) {
	p.collector.RecordError(string(strataerrors.KindOf(err)))
	emitter.Fail(err)
}

// quoteIdent quotes a SQL identifier, doubling embedded quotes.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// rowFromValues builds a row from one result tuple, keyed by column name.
func rowFromValues(fields []pgconn.FieldDescription, values []interface{}) models.Row {
	row := make(models.Row, len(fields))
	for i, fd := range fields {
		if i < len(values) {
			row[fd.Name] = convertValue(values[i])
		}
	}
	return row
}

// convertValue maps driver values to JSON-compatible ones.
func convertValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []byte:
		return string(v)
	default:
		return v
	}
}

func sortedColumns(row models.Row) []string {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func sameColumns(row models.Row, columns []string) bool {
	if len(row) != len(columns) {
		return false
	}
	for _, col := range columns {
		if _, ok := row[col]; !ok {
			return false
		}
	}
	return true
}

func containsColumn(columns []string, col string) bool {
	for _, c := range columns {
		if c == col {
			return true
		}
	}
	return false
}
