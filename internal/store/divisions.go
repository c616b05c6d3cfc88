package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

var divisionColumns = []string{"id", "system_id", "name", "subtype", "country", "geometry_json", "cached_at"}

// SaveOrGetDivision：按 system_id 缓存行政区并返回内部 id
// 约束：已存在时不修改任何属性（包括几何）；几何回填只能走 UpdateGeometry
func (s *Store) SaveOrGetDivision(ctx context.Context, in DivisionInput) (int64, error) {
	in.SystemID = strings.TrimSpace(in.SystemID)
	if in.SystemID == "" {
		return 0, constraint(ErrInvalid, "divisions", "system_id", "required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return 0, constraint(ErrInvalid, "divisions", "name", "required")
	}
	geom, err := nullGeometry(in.Geometry)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO divisions (system_id, name, subtype, country, geometry_json, cached_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(system_id) DO NOTHING`,
			in.SystemID, in.Name, in.Subtype, strings.ToUpper(in.Country), geom, s.now()); err != nil {
			return errors.Wrap(err, "insert division")
		}
		return tx.GetContext(ctx, &id, `SELECT id FROM divisions WHERE system_id = ?`, in.SystemID)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateGeometry：回填权威几何；重复调用结果相同，不影响其它列
func (s *Store) UpdateGeometry(ctx context.Context, id int64, geometry json.RawMessage) error {
	geom, err := nullGeometry(geometry)
	if err != nil {
		return err
	}
	if !geom.Valid {
		return constraint(ErrInvalid, "divisions", "geometry_json", "geometry is empty")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE divisions SET geometry_json = ? WHERE id = ?`, geom, id)
	if err != nil {
		return classify(errors.Wrap(err, "update geometry"))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "division %d", id)
	}
	return nil
}

func (s *Store) GetDivision(ctx context.Context, id int64) (*Division, error) {
	var d Division
	q := `SELECT ` + strings.Join(divisionColumns, ", ") + ` FROM divisions WHERE id = ?`
	if err := s.db.GetContext(ctx, &d, q, id); err != nil {
		return nil, notFoundIfNoRows(err, "division")
	}
	return &d, nil
}

func (s *Store) GetDivisionBySystemID(ctx context.Context, systemID string) (*Division, error) {
	var d Division
	q := `SELECT ` + strings.Join(divisionColumns, ", ") + ` FROM divisions WHERE system_id = ?`
	if err := s.db.GetContext(ctx, &d, q, strings.TrimSpace(systemID)); err != nil {
		return nil, notFoundIfNoRows(err, "division "+systemID)
	}
	return &d, nil
}

// DivisionFilter：本地缓存的浏览条件；零值返回全部
type DivisionFilter struct {
	Country      string
	Subtype      string
	WithGeometry bool
	Limit        int
}

func (s *Store) ListDivisions(ctx context.Context, f DivisionFilter) ([]Division, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(divisionColumns...).From("divisions")
	if f.Country != "" {
		sb.Where(sb.Equal("country", strings.ToUpper(f.Country)))
	}
	if f.Subtype != "" {
		sb.Where(sb.Equal("subtype", f.Subtype))
	}
	if f.WithGeometry {
		sb.Where(sb.IsNotNull("geometry_json"), sb.NotEqual("geometry_json", ""))
	}
	sb.OrderBy("name", "id")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	q, args := sb.Build()
	out := []Division{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, errors.Wrap(err, "list divisions")
	}
	return out, nil
}

// DeleteDivision：显式清除；成员关系、映射、组织关系由外键级联删除
func (s *Store) DeleteDivision(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM divisions WHERE id = ?`, id)
		if err != nil {
			return errors.Wrap(err, "delete division")
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrapf(ErrNotFound, "division %d", id)
		}
		return nil
	})
}

func nullGeometry(g json.RawMessage) (sql.NullString, error) {
	if len(g) == 0 || string(g) == "null" {
		return sql.NullString{}, nil
	}
	if !json.Valid(g) {
		return sql.NullString{}, constraint(ErrInvalid, "divisions", "geometry_json", "geometry is not valid JSON")
	}
	return sql.NullString{String: string(g), Valid: true}, nil
}
