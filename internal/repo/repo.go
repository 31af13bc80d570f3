package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ventureboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const ventureColumns = `id,name,COALESCE(description,''),status,priority,COALESCE(icon,''),capital_budget,capital_spent,created_at,updated_at`

func scanVenture(sc interface{ Scan(...any) error }) (domain.Venture, error) {
	var v domain.Venture
	err := sc.Scan(&v.ID, &v.Name, &v.Description, &v.Status, &v.Priority, &v.Icon,
		&v.CapitalBudget, &v.CapitalSpent, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) InsertVenture(ctx context.Context, v domain.Venture) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO ventures(id,name,description,status,priority,icon,capital_budget,capital_spent,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.ID, v.Name, nullable(v.Description), v.Status, v.Priority, nullable(v.Icon),
		v.CapitalBudget, v.CapitalSpent, v.CreatedAt, v.UpdatedAt)
	return err
}

func (r Repo) GetVenture(ctx context.Context, id string) (domain.Venture, error) {
	return scanVenture(r.DB.QueryRowContext(ctx, `SELECT `+ventureColumns+` FROM ventures WHERE id=?`, id))
}

func (r Repo) GetVentureTx(ctx context.Context, tx *sql.Tx, id string) (domain.Venture, error) {
	return scanVenture(tx.QueryRowContext(ctx, `SELECT `+ventureColumns+` FROM ventures WHERE id=?`, id))
}

func (r Repo) ListVentures(ctx context.Context) ([]domain.Venture, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ventureColumns+` FROM ventures ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Venture
	for rows.Next() {
		v, err := scanVenture(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// VentureUpdate carries PATCH fields; nil means "leave unchanged".
// CapitalSpent is deliberately absent: the completion path is the only
// writer of that column.
type VentureUpdate struct {
	Name          *string
	Description   *string
	Status        *string
	Priority      *string
	Icon          *string
	CapitalBudget *float64
}

func (r Repo) UpdateVenture(ctx context.Context, id string, u VentureUpdate, now string) error {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*u.Description))
	}
	if u.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *u.Status)
	}
	if u.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *u.Priority)
	}
	if u.Icon != nil {
		fields = append(fields, "icon=?")
		args = append(args, nullable(*u.Icon))
	}
	if u.CapitalBudget != nil {
		fields = append(fields, "capital_budget=?")
		args = append(args, *u.CapitalBudget)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE ventures SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteVenture(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM ventures WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddVentureSpendTx increments capital_spent; the accumulator only ever
// grows through this path.
func (r Repo) AddVentureSpendTx(ctx context.Context, tx *sql.Tx, id string, amount float64, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE ventures SET capital_spent=capital_spent+?, updated_at=? WHERE id=?`, amount, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
