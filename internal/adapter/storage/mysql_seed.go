package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/speles7172/lahak/internal/core/domain"
)

// SeedMySQL loads a fixture into the catalog tables. Locations, users and
// items are upserted; for a per-location fixture the missing quantity
// columns are added to the items table first, named after the location
// codes.
func SeedMySQL(ctx context.Context, db *sqlx.DB, fx *Fixture) error {
	perLoc, err := fx.PerLocation()
	if err != nil {
		return err
	}

	for _, loc := range fx.Locations {
		_, err := db.ExecContext(ctx, `
			INSERT INTO locations (code, name) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name)`,
			domain.NormalizeCode(loc.Code), loc.Name,
		)
		if err != nil {
			return errors.Wrapf(err, "seed location %s", loc.Code)
		}
	}

	for _, u := range fx.Users {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (email, name, default_location) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), default_location = VALUES(default_location)`,
			strings.TrimSpace(u.Email), u.Name, domain.NormalizeCode(u.DefaultLocation),
		)
		if err != nil {
			return errors.Wrapf(err, "seed user %s", u.Email)
		}
	}

	if perLoc {
		if err := ensureCellColumns(ctx, db, fx.Locations); err != nil {
			return err
		}
	}

	for _, it := range fx.Items {
		if err := seedItem(ctx, db, it, perLoc); err != nil {
			return err
		}
	}
	return nil
}

func ensureCellColumns(ctx context.Context, db *sqlx.DB, locations []FixtureLocation) error {
	rows, err := db.QueryxContext(ctx, `SELECT * FROM items LIMIT 1`)
	if err != nil {
		return errors.Wrap(err, "inspect items table")
	}
	columns, err := rows.Columns()
	rows.Close()
	if err != nil {
		return errors.Wrap(err, "read items columns")
	}

	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[domain.NormalizeCode(col)] = true
	}
	for _, loc := range locations {
		code := domain.NormalizeCode(loc.Code)
		if present[code] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE items ADD COLUMN %s DOUBLE NOT NULL DEFAULT 0", quoteIdent(code))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "add cell column %s", code)
		}
	}
	return nil
}

func seedItem(ctx context.Context, db *sqlx.DB, it FixtureItem, perLoc bool) error {
	cols := []string{"code", "series", "name", "volume"}
	args := []interface{}{domain.NormalizeCode(it.Code), it.Series, it.Name, it.Volume}

	if perLoc {
		for loc, qty := range it.Locations {
			cols = append(cols, quoteIdent(domain.NormalizeCode(loc)))
			args = append(args, qty)
		}
	} else {
		cols = append(cols, "total_qty")
		var total float64
		if it.Total != nil {
			total = *it.Total
		}
		args = append(args, total)
	}

	updates := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
	}
	stmt := fmt.Sprintf(
		"INSERT INTO items (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrapf(err, "seed item %s", it.Code)
	}
	return nil
}
