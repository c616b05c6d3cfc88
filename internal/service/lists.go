package service

import (
	"context"
	"strings"

	"overture-lists/internal/logger"
	"overture-lists/internal/overture"
	"overture-lists/internal/store"
)

func (s *Service) validateDraft(d *Draft) error {
	if d == nil {
		return newError(KindValidation, "draft", "draft is required")
	}
	d.Name = strings.TrimSpace(d.Name)
	if err := s.validate.Struct(d); err != nil {
		return translate(err)
	}
	if d.Len() == 0 {
		return newError(KindEmptyList, "members", "a list must contain at least one member")
	}
	return nil
}

// members：把草稿成员解析为存储层参数；行政区成员先走 cache-aside
func (s *Service) members(ctx context.Context, d *Draft) ([]int64, []string, error) {
	if d.Type == store.ListTypeClient {
		for _, id := range d.ids {
			if s.roster != nil && s.roster.Len() > 0 && !s.roster.Has(id) {
				return nil, nil, newError(KindNotFound, "system_id", "client "+id+" is not in the roster")
			}
		}
		return nil, d.Items(), nil
	}
	refs := make([]int64, 0, d.Len())
	for _, id := range d.ids {
		var known *overture.Division
		if div, ok := d.known(id); ok {
			known = &div
		}
		div, err := s.cacheBoundary(ctx, id, known)
		if err != nil {
			return nil, nil, err
		}
		refs = append(refs, div.ID)
	}
	return refs, nil, nil
}

// SaveList：保存草稿为新列表
// 约束：空列表 → empty_list；同名同类型 → duplicate（field=name），两者都不写入任何列表行
func (s *Service) SaveList(ctx context.Context, d *Draft) (*store.List, error) {
	if err := s.validateDraft(d); err != nil {
		return nil, s.done("save_list", 0, "", err)
	}
	exists, err := s.store.ListExists(ctx, d.Name, d.Type)
	if err != nil {
		return nil, s.done("save_list", 0, d.Name, err)
	}
	if exists {
		return nil, s.done("save_list", 0, d.Name,
			newError(KindDuplicate, "name", "a "+string(d.Type)+" list named "+d.Name+" already exists"))
	}
	divs, clients, err := s.members(ctx, d)
	if err != nil {
		return nil, s.done("save_list", 0, d.Name, err)
	}
	l, err := s.store.CreateList(ctx, store.NewList{
		PublicID:    d.PublicID,
		Name:        d.Name,
		Type:        d.Type,
		Notes:       d.Notes,
		DivisionIDs: divs,
		ClientIDs:   clients,
	})
	if err != nil {
		return nil, s.done("save_list", 0, d.Name, err)
	}
	logger.L().Info("list_saved", "id", l.ID, "public_id", l.PublicID, "name", l.Name, "type", l.Type, "members", l.MemberCount)
	return l, s.done("save_list", l.ID, l.PublicID, nil)
}

func (s *Service) RenameList(ctx context.Context, id int64, name string) (*store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, s.done("rename_list", id, "", newError(KindValidation, "name", "name is required"))
	}
	l, err := s.store.UpdateList(ctx, id, store.ListUpdate{Name: &name})
	if err != nil {
		return nil, s.done("rename_list", id, name, err)
	}
	return l, s.done("rename_list", l.ID, l.PublicID, nil)
}

func (s *Service) UpdateNotes(ctx context.Context, id int64, notes string) (*store.List, error) {
	l, err := s.store.UpdateList(ctx, id, store.ListUpdate{Notes: &notes})
	if err != nil {
		return nil, s.done("update_notes", id, "", err)
	}
	return l, s.done("update_notes", l.ID, l.PublicID, nil)
}

// ReplaceItems：以草稿成员整体替换已保存列表的成员；草稿种类必须与列表一致
func (s *Service) ReplaceItems(ctx context.Context, id int64, d *Draft) (*store.List, error) {
	cur, err := s.store.GetList(ctx, id)
	if err != nil {
		return nil, s.done("replace_items", id, "", err)
	}
	if d == nil || d.Len() == 0 {
		return nil, s.done("replace_items", id, "", newError(KindEmptyList, "members", "a list must contain at least one member"))
	}
	if d.Type != cur.Type {
		return nil, s.done("replace_items", id, "", newError(KindValidation, "type", "draft kind does not match list type"))
	}
	divs, clients, err := s.members(ctx, d)
	if err != nil {
		return nil, s.done("replace_items", id, "", err)
	}
	l, err := s.store.ReplaceListItems(ctx, id, divs, clients)
	if err != nil {
		return nil, s.done("replace_items", id, "", err)
	}
	return l, s.done("replace_items", l.ID, l.PublicID, nil)
}

func (s *Service) DeleteList(ctx context.Context, id int64) error {
	err := s.store.DeleteList(ctx, id)
	if err == nil {
		logger.L().Info("list_deleted", "id", id)
	}
	return s.done("delete_list", id, "", err)
}

// Lists：t 为空时返回全部类型
func (s *Service) Lists(ctx context.Context, t store.ListType) ([]store.List, error) {
	if t != "" && !t.Valid() {
		return nil, newError(KindValidation, "type", "list type must be division or client")
	}
	out, err := s.store.ListLists(ctx, t)
	return out, translate(err)
}

// ResolveList：接受内部数字 id 或 public_id
func (s *Service) ResolveList(ctx context.Context, ref string) (*store.List, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := parseID(ref); ok {
		l, err := s.store.GetList(ctx, id)
		if err == nil {
			return l, nil
		}
	}
	l, err := s.store.GetListByPublicID(ctx, ref)
	return l, translate(err)
}

// BuildFromSpatial：数据集层级（父指针）下一层的全部子区生成列表
func (s *Service) BuildFromSpatial(ctx context.Context, parentSystemID, name, notes string) (*store.List, error) {
	kids, err := s.src.Children(ctx, parentSystemID)
	if err != nil {
		return nil, s.done("auto_list_spatial", 0, parentSystemID, err)
	}
	if len(kids) == 0 {
		return nil, s.done("auto_list_spatial", 0, parentSystemID,
			newError(KindEmptyList, "parent_division_id", "division "+parentSystemID+" has no children in the dataset"))
	}
	d := NewDivisionDraft(name)
	d.Notes = notes
	for _, k := range kids {
		d.AddDivision(k)
	}
	return s.SaveList(ctx, d)
}

// BuildFromAdmin：组织层级（关系表）中 parent 下一层的子区生成列表；relType 为空表示不限类型
func (s *Service) BuildFromAdmin(ctx context.Context, parentSystemID string, relType store.RelationshipType, name, notes string) (*store.List, error) {
	if relType != "" && !relType.Valid() {
		return nil, s.done("auto_list_admin", 0, parentSystemID,
			newError(KindValidation, "relationship_type", "relationship type must be reports_to or collaborates_with"))
	}
	parent, err := s.store.GetDivisionBySystemID(ctx, parentSystemID)
	if err != nil {
		return nil, s.done("auto_list_admin", 0, parentSystemID, err)
	}
	kids, err := s.store.Children(ctx, parent.ID, relType)
	if err != nil {
		return nil, s.done("auto_list_admin", 0, parentSystemID, err)
	}
	if len(kids) == 0 {
		return nil, s.done("auto_list_admin", 0, parentSystemID,
			newError(KindEmptyList, "parent_division_id", "division "+parentSystemID+" has no related children"))
	}
	d := NewDivisionDraft(name)
	d.Notes = notes
	for _, k := range kids {
		d.AddDivision(overture.Division{ID: k.SystemID, Name: k.Name, Subtype: k.Subtype, Country: k.Country})
	}
	return s.SaveList(ctx, d)
}
