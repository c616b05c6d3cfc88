package service

import (
	"context"
	"strings"

	"overture-lists/internal/logger"
	"overture-lists/internal/store"
)

// Relate：新增组织关系；同一三元组重复添加返回 duplicate
func (s *Service) Relate(ctx context.Context, parentSystemID, childSystemID string, t store.RelationshipType, notes string) (*store.Relationship, error) {
	parentSystemID, childSystemID = strings.TrimSpace(parentSystemID), strings.TrimSpace(childSystemID)
	if parentSystemID != "" && parentSystemID == childSystemID {
		return nil, s.done("relate", 0, parentSystemID,
			newError(KindSelfRelationship, "child_division_id", "a division cannot relate to itself"))
	}
	if !t.Valid() {
		return nil, s.done("relate", 0, parentSystemID,
			newError(KindValidation, "relationship_type", "relationship type must be reports_to or collaborates_with"))
	}
	parent, err := s.cacheBoundary(ctx, parentSystemID, nil)
	if err != nil {
		return nil, s.done("relate", 0, parentSystemID, err)
	}
	child, err := s.cacheBoundary(ctx, childSystemID, nil)
	if err != nil {
		return nil, s.done("relate", 0, childSystemID, err)
	}
	r, err := s.store.AddRelationship(ctx, store.RelationshipInput{ParentID: parent.ID, ChildID: child.ID, Type: t, Notes: notes})
	if err != nil {
		return nil, s.done("relate", 0, parentSystemID, err)
	}
	logger.L().Info("relationship_added", "id", r.ID, "parent", parentSystemID, "child", childSystemID, "type", t)
	return r, s.done("relate", r.ID, parentSystemID, nil)
}

func (s *Service) Unrelate(ctx context.Context, id int64) error {
	return s.done("unrelate", id, "", s.store.DeleteRelationship(ctx, id))
}

// Relationships：divisionSystemID 为空时返回全部
func (s *Service) Relationships(ctx context.Context, divisionSystemID string) ([]store.Relationship, error) {
	var ref int64
	if strings.TrimSpace(divisionSystemID) != "" {
		d, err := s.store.GetDivisionBySystemID(ctx, divisionSystemID)
		if err != nil {
			return nil, translate(err)
		}
		ref = d.ID
	}
	out, err := s.store.ListRelationships(ctx, ref)
	return out, translate(err)
}

// AdminChildren：组织层级中直接下级（一层）
func (s *Service) AdminChildren(ctx context.Context, systemID string, t store.RelationshipType) ([]store.Division, error) {
	d, err := s.store.GetDivisionBySystemID(ctx, systemID)
	if err != nil {
		return nil, translate(err)
	}
	out, err := s.store.Children(ctx, d.ID, t)
	return out, translate(err)
}

// AdminParents：组织层级中直接上级（一层）
func (s *Service) AdminParents(ctx context.Context, systemID string, t store.RelationshipType) ([]store.Division, error) {
	d, err := s.store.GetDivisionBySystemID(ctx, systemID)
	if err != nil {
		return nil, translate(err)
	}
	out, err := s.store.Parents(ctx, d.ID, t)
	return out, translate(err)
}
