package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

const memberCountExpr = `(SELECT COUNT(1) FROM list_divisions ld WHERE ld.list_id = l.id) +
	(SELECT COUNT(1) FROM list_clients lc WHERE lc.list_id = l.id) AS member_count`

var listColumns = []string{"l.id", "l.public_id", "l.name", "l.type", "l.notes", "l.hash", "l.created_at", "l.updated_at", memberCountExpr}

// CreateList：列表与成员作为一个原子单元写入
// 约束：
// - 成员为空 → ErrEmptyList，不写入任何行
// - 同名同类型已存在 → ErrDuplicateList（field=name）
// - 成员种类与列表类型不符 → ErrMixedMembers
// - 引用未缓存的行政区 → ErrNotFound，整体回滚
func (s *Store) CreateList(ctx context.Context, in NewList) (*List, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, constraint(ErrInvalid, "lists", "name", "required")
	}
	if !in.Type.Valid() {
		return nil, constraint(ErrInvalidListType, "lists", "type", string(in.Type))
	}
	divs, clients, err := normalizeMembers(in.Type, in.DivisionIDs, in.ClientIDs)
	if err != nil {
		return nil, err
	}
	publicID := strings.TrimSpace(in.PublicID)
	if publicID == "" {
		publicID = uuid.NewString()
	}
	hash := ListHash(name, in.Type)
	now := s.now()

	var id int64
	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(1) FROM lists WHERE hash = ?`, hash); err != nil {
			return errors.Wrap(err, "check list hash")
		}
		if exists > 0 {
			return constraint(ErrDuplicateList, "lists", "name", name+" ("+string(in.Type)+")")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO lists (public_id, name, type, notes, hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			publicID, name, string(in.Type), in.Notes, hash, now, now)
		if err != nil {
			return errors.Wrap(err, "insert list")
		}
		if id, err = res.LastInsertId(); err != nil {
			return errors.Wrap(err, "list id")
		}
		return insertMembers(ctx, tx, id, divs, clients)
	})
	if err != nil {
		return nil, err
	}
	return s.GetList(ctx, id)
}

// normalizeMembers：按列表类型校验成员，去重并保持首次出现的顺序
func normalizeMembers(t ListType, divisionIDs []int64, clientIDs []string) ([]int64, []string, error) {
	switch t {
	case ListTypeDivision:
		if len(clientIDs) > 0 {
			return nil, nil, constraint(ErrMixedMembers, "list_clients", "system_id", "division list cannot hold clients")
		}
		seen := make(map[int64]struct{}, len(divisionIDs))
		out := make([]int64, 0, len(divisionIDs))
		for _, id := range divisionIDs {
			if id <= 0 {
				return nil, nil, constraint(ErrInvalid, "list_divisions", "division_id", "must be positive")
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		if len(out) == 0 {
			return nil, nil, constraint(ErrEmptyList, "lists", "members", "")
		}
		return out, nil, nil
	case ListTypeClient:
		if len(divisionIDs) > 0 {
			return nil, nil, constraint(ErrMixedMembers, "list_divisions", "division_id", "client list cannot hold divisions")
		}
		seen := make(map[string]struct{}, len(clientIDs))
		out := make([]string, 0, len(clientIDs))
		for _, c := range clientIDs {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
		if len(out) == 0 {
			return nil, nil, constraint(ErrEmptyList, "lists", "members", "")
		}
		return nil, out, nil
	}
	return nil, nil, constraint(ErrInvalidListType, "lists", "type", string(t))
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, listID int64, divs []int64, clients []string) error {
	for i, d := range divs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_divisions (list_id, division_id, item_order) VALUES (?, ?, ?)`, listID, d, i); err != nil {
			return errors.Wrapf(classify(err), "insert division member %d", d)
		}
	}
	for i, c := range clients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO list_clients (list_id, system_id, item_order) VALUES (?, ?, ?)`, listID, c, i); err != nil {
			return errors.Wrapf(classify(err), "insert client member %s", c)
		}
	}
	return nil
}

func (s *Store) GetList(ctx context.Context, id int64) (*List, error) {
	return s.getListWhere(ctx, "l.id", id)
}

func (s *Store) GetListByPublicID(ctx context.Context, publicID string) (*List, error) {
	return s.getListWhere(ctx, "l.public_id", strings.TrimSpace(publicID))
}

func (s *Store) getListWhere(ctx context.Context, col string, v interface{}) (*List, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(listColumns...).From("lists l").Where(sb.Equal(col, v))
	q, args := sb.Build()
	var l List
	if err := s.db.GetContext(ctx, &l, q, args...); err != nil {
		return nil, notFoundIfNoRows(err, "list")
	}
	return &l, nil
}

// ListExists：重名检测（name|type 哈希）
func (s *Store) ListExists(ctx context.Context, name string, t ListType) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM lists WHERE hash = ?`, ListHash(strings.TrimSpace(name), t)); err != nil {
		return false, errors.Wrap(err, "check list hash")
	}
	return n > 0, nil
}

// ListLists：按创建时间倒序；t 为空时返回全部类型
func (s *Store) ListLists(ctx context.Context, t ListType) ([]List, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(listColumns...).From("lists l")
	if t != "" {
		sb.Where(sb.Equal("l.type", string(t)))
	}
	sb.OrderBy("l.created_at DESC", "l.id DESC")
	q, args := sb.Build()
	out := []List{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, errors.Wrap(err, "list lists")
	}
	return out, nil
}

// UpdateList：改名需重新计算哈希并做重名检测；类型不可变更
func (s *Store) UpdateList(ctx context.Context, id int64, u ListUpdate) (*List, error) {
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var cur List
		if err := tx.GetContext(ctx, &cur, `SELECT id, public_id, name, type, notes, hash, created_at, updated_at, 0 AS member_count FROM lists WHERE id = ?`, id); err != nil {
			return notFoundIfNoRows(err, "list")
		}
		ub := sqlbuilder.SQLite.NewUpdateBuilder()
		ub.Update("lists").Set(ub.Assign("updated_at", s.now()))
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if name == "" {
				return constraint(ErrInvalid, "lists", "name", "required")
			}
			hash := ListHash(name, cur.Type)
			var n int
			if err := tx.GetContext(ctx, &n, `SELECT COUNT(1) FROM lists WHERE hash = ? AND id <> ?`, hash, id); err != nil {
				return errors.Wrap(err, "check list hash")
			}
			if n > 0 {
				return constraint(ErrDuplicateList, "lists", "name", name+" ("+string(cur.Type)+")")
			}
			ub.SetMore(ub.Assign("name", name), ub.Assign("hash", hash))
		}
		if u.Notes != nil {
			ub.SetMore(ub.Assign("notes", *u.Notes))
		}
		ub.Where(ub.Equal("id", id))
		q, args := ub.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return errors.Wrap(err, "update list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetList(ctx, id)
}

// ReplaceListItems：整体替换成员；同样不允许清空或混用种类
func (s *Store) ReplaceListItems(ctx context.Context, id int64, divisionIDs []int64, clientIDs []string) (*List, error) {
	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		var t ListType
		if err := tx.GetContext(ctx, &t, `SELECT type FROM lists WHERE id = ?`, id); err != nil {
			return notFoundIfNoRows(err, "list")
		}
		divs, clients, err := normalizeMembers(t, divisionIDs, clientIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_divisions WHERE list_id = ?`, id); err != nil {
			return errors.Wrap(err, "clear division members")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM list_clients WHERE list_id = ?`, id); err != nil {
			return errors.Wrap(err, "clear client members")
		}
		if err := insertMembers(ctx, tx, id, divs, clients); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE lists SET updated_at = ? WHERE id = ?`, s.now(), id)
		return errors.Wrap(err, "touch list")
	})
	if err != nil {
		return nil, err
	}
	return s.GetList(ctx, id)
}

// DeleteList：成员行由外键级联删除
func (s *Store) DeleteList(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lists WHERE id = ?`, id)
	if err != nil {
		return classify(errors.Wrap(err, "delete list"))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "list %d", id)
	}
	return nil
}

// ListDivisionMembers：按保存时的顺序返回成员
func (s *Store) ListDivisionMembers(ctx context.Context, listID int64) ([]Division, error) {
	out := []Division{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT d.id, d.system_id, d.name, d.subtype, d.country, d.geometry_json, d.cached_at
		 FROM list_divisions ld JOIN divisions d ON d.id = ld.division_id
		 WHERE ld.list_id = ? ORDER BY ld.item_order, d.id`, listID)
	if err != nil {
		return nil, errors.Wrap(err, "list division members")
	}
	return out, nil
}

func (s *Store) ListClientMembers(ctx context.Context, listID int64) ([]string, error) {
	out := []string{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT system_id FROM list_clients WHERE list_id = ? ORDER BY item_order, system_id`, listID)
	if err != nil {
		return nil, errors.Wrap(err, "list client members")
	}
	return out, nil
}

// ListsContaining：包含某行政区的列表 id
func (s *Store) ListsContaining(ctx context.Context, divisionID int64) ([]int64, error) {
	out := []int64{}
	if err := s.db.SelectContext(ctx, &out, `SELECT list_id FROM list_divisions WHERE division_id = ? ORDER BY list_id`, divisionID); err != nil {
		return nil, errors.Wrap(err, "lists containing division")
	}
	return out, nil
}
