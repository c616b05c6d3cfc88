package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
)

const mappingSelect = `SELECT m.id, m.system_id, m.division_id, m.account_name, m.custom_admin_level,
	m.division_name, m.overture_subtype, m.country, m.geometry_json, m.created_at, m.updated_at,
	d.system_id AS division_system_id
	FROM crm_mappings m JOIN divisions d ON d.id = m.division_id`

// UpsertMapping：绑定账户与行政区（1:1）
// 约束：
// - 账户已绑定到另一个行政区 → ErrMappingConflict（field=system_id）
// - 行政区已绑定到另一个账户 → ErrMappingConflict（field=division_id）
// - 同一对重复绑定为原地更新（名称、自定义层级、元数据与几何镜像）
// - 行政区元数据与几何从 divisions 复制；Geometry 参数仅在行政区尚无几何时作为镜像来源
func (s *Store) UpsertMapping(ctx context.Context, in MappingInput) (*Mapping, error) {
	in.SystemID = strings.TrimSpace(in.SystemID)
	if in.SystemID == "" {
		return nil, constraint(ErrInvalid, "crm_mappings", "system_id", "required")
	}
	if strings.TrimSpace(in.AccountName) == "" {
		return nil, constraint(ErrInvalid, "crm_mappings", "account_name", "required")
	}
	if in.DivisionID <= 0 {
		return nil, constraint(ErrInvalid, "crm_mappings", "division_id", "required")
	}
	extra, err := nullGeometry(in.Geometry)
	if err != nil {
		return nil, err
	}
	now := s.now()
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var d Division
		if err := tx.GetContext(ctx, &d, `SELECT id, system_id, name, subtype, country, geometry_json, cached_at FROM divisions WHERE id = ?`, in.DivisionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return constraint(ErrNotFound, "divisions", "division_id", fmt.Sprintf("division %d is not cached", in.DivisionID))
			}
			return errors.Wrap(err, "load division")
		}
		var boundTo int64
		err := tx.GetContext(ctx, &boundTo, `SELECT division_id FROM crm_mappings WHERE system_id = ?`, in.SystemID)
		switch {
		case err == nil && boundTo != in.DivisionID:
			return constraint(ErrMappingConflict, "crm_mappings", "system_id",
				fmt.Sprintf("account %s is already mapped to division %d", in.SystemID, boundTo))
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return errors.Wrap(err, "check account mapping")
		}
		var account string
		err = tx.GetContext(ctx, &account, `SELECT system_id FROM crm_mappings WHERE division_id = ?`, in.DivisionID)
		switch {
		case err == nil && account != in.SystemID:
			return constraint(ErrMappingConflict, "crm_mappings", "division_id",
				fmt.Sprintf("division %s is already mapped to account %s", d.SystemID, account))
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return errors.Wrap(err, "check division mapping")
		}
		geom := d.GeometryJSON
		if !d.HasGeometry() {
			geom = extra
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO crm_mappings (system_id, division_id, account_name, custom_admin_level,
				division_name, overture_subtype, country, geometry_json, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(system_id) DO UPDATE SET
				account_name = excluded.account_name,
				custom_admin_level = excluded.custom_admin_level,
				division_name = excluded.division_name,
				overture_subtype = excluded.overture_subtype,
				country = excluded.country,
				geometry_json = excluded.geometry_json,
				updated_at = excluded.updated_at`,
			in.SystemID, in.DivisionID, strings.TrimSpace(in.AccountName), strings.TrimSpace(in.CustomAdminLevel),
			d.Name, d.Subtype, d.Country, geom, now, now)
		return errors.Wrap(err, "upsert mapping")
	})
	if err != nil {
		return nil, err
	}
	return s.GetMappingByAccount(ctx, in.SystemID)
}

func (s *Store) GetMappingByAccount(ctx context.Context, systemID string) (*Mapping, error) {
	var m Mapping
	if err := s.db.GetContext(ctx, &m, mappingSelect+` WHERE m.system_id = ?`, strings.TrimSpace(systemID)); err != nil {
		return nil, notFoundIfNoRows(err, "mapping for account "+systemID)
	}
	return &m, nil
}

func (s *Store) GetMappingByDivision(ctx context.Context, divisionID int64) (*Mapping, error) {
	var m Mapping
	if err := s.db.GetContext(ctx, &m, mappingSelect+` WHERE m.division_id = ?`, divisionID); err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("mapping for division %d", divisionID))
	}
	return &m, nil
}

func (s *Store) ListMappings(ctx context.Context) ([]Mapping, error) {
	out := []Mapping{}
	if err := s.db.SelectContext(ctx, &out, mappingSelect+` ORDER BY m.account_name, m.system_id`); err != nil {
		return nil, errors.Wrap(err, "list mappings")
	}
	return out, nil
}

func (s *Store) DeleteMappingByAccount(ctx context.Context, systemID string) error {
	return s.deleteMapping(ctx, `DELETE FROM crm_mappings WHERE system_id = ?`, strings.TrimSpace(systemID))
}

func (s *Store) DeleteMappingByDivision(ctx context.Context, divisionID int64) error {
	return s.deleteMapping(ctx, `DELETE FROM crm_mappings WHERE division_id = ?`, divisionID)
}

func (s *Store) deleteMapping(ctx context.Context, q string, arg interface{}) error {
	res, err := s.db.ExecContext(ctx, q, arg)
	if err != nil {
		return classify(errors.Wrap(err, "delete mapping"))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "mapping %v", arg)
	}
	return nil
}
