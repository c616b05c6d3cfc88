package store

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

const relationshipSelect = `SELECT r.id, r.parent_division_id, r.child_division_id, r.relationship_type, r.notes, r.created_at,
	p.system_id AS parent_system_id, p.name AS parent_name, c.system_id AS child_system_id, c.name AS child_name
	FROM relationships r
	JOIN divisions p ON p.id = r.parent_division_id
	JOIN divisions c ON c.id = r.child_division_id`

// AddRelationship：新增组织关系边
// 约束：
// - parent == child → ErrSelfRelationship
// - (parent, child, type) 已存在 → ErrDuplicateRelationship，不做静默忽略
// - 同一对可以拥有多种类型；端点必须是已缓存的行政区，否则 ErrNotFound
func (s *Store) AddRelationship(ctx context.Context, in RelationshipInput) (*Relationship, error) {
	if in.ParentID == in.ChildID {
		return nil, constraint(ErrSelfRelationship, "relationships", "child_division_id",
			fmt.Sprintf("division %d cannot relate to itself", in.ParentID))
	}
	if !in.Type.Valid() {
		return nil, constraint(ErrInvalidRelationshipType, "relationships", "relationship_type", string(in.Type))
	}
	var id int64
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n,
			`SELECT COUNT(1) FROM relationships WHERE parent_division_id = ? AND child_division_id = ? AND relationship_type = ?`,
			in.ParentID, in.ChildID, string(in.Type)); err != nil {
			return errors.Wrap(err, "check relationship")
		}
		if n > 0 {
			return constraint(ErrDuplicateRelationship, "relationships", "relationship_type",
				fmt.Sprintf("%d -> %d (%s)", in.ParentID, in.ChildID, in.Type))
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (parent_division_id, child_division_id, relationship_type, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
			in.ParentID, in.ChildID, string(in.Type), in.Notes, s.now())
		if err != nil {
			return errors.Wrap(err, "insert relationship")
		}
		id, err = res.LastInsertId()
		return errors.Wrap(err, "relationship id")
	})
	if err != nil {
		return nil, err
	}
	return s.GetRelationship(ctx, id)
}

func (s *Store) GetRelationship(ctx context.Context, id int64) (*Relationship, error) {
	var r Relationship
	if err := s.db.GetContext(ctx, &r, relationshipSelect+` WHERE r.id = ?`, id); err != nil {
		return nil, notFoundIfNoRows(err, "relationship")
	}
	return &r, nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return classify(errors.Wrap(err, "delete relationship"))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "relationship %d", id)
	}
	return nil
}

// ListRelationships：divisionID 为 0 时返回全部，否则返回以其为任一端点的边
func (s *Store) ListRelationships(ctx context.Context, divisionID int64) ([]Relationship, error) {
	q := relationshipSelect
	var args []interface{}
	if divisionID > 0 {
		q += ` WHERE r.parent_division_id = ? OR r.child_division_id = ?`
		args = append(args, divisionID, divisionID)
	}
	q += ` ORDER BY p.name, c.name, r.relationship_type`
	out := []Relationship{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, errors.Wrap(err, "list relationships")
	}
	return out, nil
}

// Children：以 parentID 为父的直接下级（仅一层）；t 为空时不限类型
func (s *Store) Children(ctx context.Context, parentID int64, t RelationshipType) ([]Division, error) {
	return s.related(ctx, "r.child_division_id", "r.parent_division_id", parentID, t)
}

// Parents：以 childID 为子的直接上级（仅一层）
func (s *Store) Parents(ctx context.Context, childID int64, t RelationshipType) ([]Division, error) {
	return s.related(ctx, "r.parent_division_id", "r.child_division_id", childID, t)
}

func (s *Store) related(ctx context.Context, joinCol, matchCol string, id int64, t RelationshipType) ([]Division, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Distinct().
		Select("d.id", "d.system_id", "d.name", "d.subtype", "d.country", "d.geometry_json", "d.cached_at").
		From("relationships r").
		Join("divisions d", "d.id = "+joinCol).
		Where(sb.Equal(matchCol, id))
	if t != "" {
		sb.Where(sb.Equal("r.relationship_type", string(t)))
	}
	sb.OrderBy("d.name", "d.id")
	q, args := sb.Build()
	out := []Division{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, errors.Wrap(err, "related divisions")
	}
	return out, nil
}

// Counts：各表行数，供指标与 CLI 汇总使用
type Counts struct {
	Divisions     int `db:"divisions" json:"divisions"`
	Lists         int `db:"lists" json:"lists"`
	Mappings      int `db:"mappings" json:"mappings"`
	Relationships int `db:"relationships" json:"relationships"`
	Memberships   int `db:"memberships" json:"memberships"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.GetContext(ctx, &c, `SELECT
		(SELECT COUNT(1) FROM divisions) AS divisions,
		(SELECT COUNT(1) FROM lists) AS lists,
		(SELECT COUNT(1) FROM crm_mappings) AS mappings,
		(SELECT COUNT(1) FROM relationships) AS relationships,
		(SELECT COUNT(1) FROM list_divisions) + (SELECT COUNT(1) FROM list_clients) AS memberships`)
	if err != nil {
		return c, errors.Wrap(err, "count rows")
	}
	return c, nil
}
