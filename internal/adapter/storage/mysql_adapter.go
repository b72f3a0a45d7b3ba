package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/speles7172/lahak/internal/core/domain"
)

// Reserved columns of the items table. Every other column is a per-location
// quantity cell and must resolve to a registered location.
var reservedItemColumns = map[string]bool{
	"code":       true,
	"series":     true,
	"name":       true,
	"volume":     true,
	"total_qty":  true,
	"updated_at": true,
}

// MySQLAdapter is the durable catalog and ledger. Location columns are
// discovered by name at construction and validated against the locations
// table; an unresolvable column fails construction instead of being
// silently skipped.
type MySQLAdapter struct {
	db     *sqlx.DB
	perLoc bool
	cells  map[string]string // normalized location code -> items column
}

func NewMySQLAdapter(ctx context.Context, db *sqlx.DB) (*MySQLAdapter, error) {
	a := &MySQLAdapter{db: db, cells: make(map[string]string)}
	if err := a.discoverCells(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MySQLAdapter) discoverCells(ctx context.Context) error {
	locations, err := a.ListLocations(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]bool, len(locations))
	for _, loc := range locations {
		registered[loc.Code] = true
	}

	rows, err := a.db.QueryxContext(ctx, `SELECT * FROM items LIMIT 1`)
	if err != nil {
		return errors.Wrap(domain.ErrConfiguration, err.Error())
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "read items columns")
	}
	for _, col := range columns {
		if reservedItemColumns[strings.ToLower(col)] {
			continue
		}
		code := domain.NormalizeCode(col)
		if !registered[code] {
			return errors.Wrapf(domain.ErrConfiguration,
				"items column %q matches no registered location", col)
		}
		a.cells[code] = col
	}
	a.perLoc = len(a.cells) > 0
	return rows.Err()
}

func (a *MySQLAdapter) FindItem(ctx context.Context, code string) (*domain.Item, error) {
	row := make(map[string]interface{})
	err := a.db.QueryRowxContext(ctx,
		`SELECT * FROM items WHERE code = ?`, domain.NormalizeCode(code)).MapScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, code)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "query item %s", code)
	}
	return a.itemFromRow(row)
}

func (a *MySQLAdapter) ListItems(ctx context.Context) ([]*domain.Item, error) {
	rows, err := a.db.QueryxContext(ctx, `SELECT * FROM items ORDER BY code`)
	if err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "scan item row")
		}
		it, err := a.itemFromRow(row)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (a *MySQLAdapter) ListLocations(ctx context.Context) ([]domain.Location, error) {
	var rows []struct {
		Code string `db:"code"`
		Name string `db:"name"`
	}
	if err := a.db.SelectContext(ctx, &rows, `SELECT code, name FROM locations ORDER BY code`); err != nil {
		return nil, errors.Wrap(err, "query locations")
	}
	locations := make([]domain.Location, 0, len(rows))
	for _, r := range rows {
		locations = append(locations, domain.Location{
			Code: domain.NormalizeCode(r.Code),
			Name: r.Name,
		})
	}
	return locations, nil
}

func (a *MySQLAdapter) FindUser(ctx context.Context, identity string) (*domain.User, error) {
	var row struct {
		Email           string `db:"email"`
		Name            string `db:"name"`
		DefaultLocation string `db:"default_location"`
	}
	err := a.db.GetContext(ctx, &row,
		`SELECT email, name, default_location FROM users WHERE LOWER(TRIM(email)) = ?`,
		strings.ToLower(strings.TrimSpace(identity)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, strings.TrimSpace(identity))
	}
	if err != nil {
		return nil, errors.Wrap(err, "query user")
	}
	return &domain.User{
		Email:           row.Email,
		Name:            row.Name,
		DefaultLocation: domain.NormalizeCode(row.DefaultLocation),
	}, nil
}

// Apply appends the transaction and folds it into the item's cell inside a
// single database transaction, so the record and its effect land together
// or not at all. The caller holds the cell lease.
func (a *MySQLAdapter) Apply(ctx context.Context, txn domain.Transaction, cell domain.CellRef) (*domain.Receipt, error) {
	column, err := a.cellColumn(cell)
	if err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	var current sql.NullFloat64
	err = tx.GetContext(ctx, &current,
		fmt.Sprintf(`SELECT %s FROM items WHERE code = ?`, column), cell.ItemCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, cell.ItemCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read cell")
	}
	old := current.Float64
	next := old + txn.Qty

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, item_code, qty, location, user_email, comments, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.ItemCode, txn.Qty, txn.Location, txn.User, txn.Comment, txn.RecordedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "append transaction")
	}

	// GREATEST keeps updated_at non-decreasing when cells of one item race.
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE items SET %s = ?, updated_at = GREATEST(COALESCE(updated_at, ?), ?)
		WHERE code = ?`, column),
		next, txn.RecordedAt, txn.RecordedAt, cell.ItemCode,
	)
	if err != nil {
		return nil, errors.Wrap(err, "write cell")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit apply")
	}

	snapshot, err := a.FindItem(ctx, cell.ItemCode)
	if err != nil {
		return nil, err
	}
	return &domain.Receipt{
		ItemCode:   snapshot.Code,
		ItemName:   snapshot.Name,
		Location:   txn.Location,
		OldQty:     old,
		NewQty:     next,
		Delta:      txn.Qty,
		RecordedAt: txn.RecordedAt,
		Item:       snapshot,
	}, nil
}

func (a *MySQLAdapter) cellColumn(cell domain.CellRef) (string, error) {
	if cell.Location == "" {
		return "total_qty", nil
	}
	col, ok := a.cells[cell.Location]
	if !ok {
		return "", errors.Wrapf(domain.ErrConfiguration, "no column for location %s", cell.Location)
	}
	return quoteIdent(col), nil
}

func (a *MySQLAdapter) itemFromRow(row map[string]interface{}) (*domain.Item, error) {
	it := &domain.Item{
		Code:   toString(row["code"]),
		Series: toString(row["series"]),
		Name:   toString(row["name"]),
		Volume: toString(row["volume"]),
	}
	updated, err := toTime(row["updated_at"])
	if err != nil {
		return nil, errors.Wrapf(err, "item %s updated_at", it.Code)
	}
	it.UpdatedAt = updated

	if a.perLoc {
		it.Locations = make(map[string]float64, len(a.cells))
		for code, col := range a.cells {
			qty, err := toFloat64(row[col])
			if err != nil {
				return nil, errors.Wrapf(err, "item %s cell %s", it.Code, col)
			}
			it.Locations[code] = qty
		}
	} else {
		total, err := toFloat64(row["total_qty"])
		if err != nil {
			return nil, errors.Wrapf(err, "item %s total", it.Code)
		}
		it.Total = &total
	}
	return it, nil
}

func quoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}

// The driver hands back []byte on the text protocol and typed values on the
// binary one; NULL cells read as zero values.

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case []byte:
		var f sql.NullFloat64
		if err := f.Scan(n); err != nil {
			return 0, err
		}
		return f.Float64, nil
	default:
		return 0, fmt.Errorf("unexpected quantity type %T", v)
	}
}

func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case []byte:
		return parseDBTime(string(t))
	case string:
		return parseDBTime(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected time type %T", v)
	}
}

func parseDBTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}
