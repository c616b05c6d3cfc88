package service

import (
	"context"
	"strconv"
	"strings"

	"overture-lists/internal/logger"
	"overture-lists/internal/store"
)

// Binding：账户与行政区的绑定请求
type Binding struct {
	SystemID         string `json:"system_id" validate:"required,max=128"`
	AccountName      string `json:"account_name" validate:"max=256"`
	CustomAdminLevel string `json:"custom_admin_level" validate:"max=128"`
	DivisionID       string `json:"division_id" validate:"required"`
}

// BindAccount：建立或更新 1:1 映射
// 约束：预检只用于给出更具体的提示；最终以存储层唯一约束的结果为准
func (s *Service) BindAccount(ctx context.Context, b Binding) (*store.Mapping, error) {
	b.SystemID = strings.TrimSpace(b.SystemID)
	b.DivisionID = strings.TrimSpace(b.DivisionID)
	if err := s.validate.Struct(b); err != nil {
		return nil, s.done("bind_account", 0, b.SystemID, err)
	}
	if b.AccountName == "" && s.roster != nil {
		if c, ok := s.roster.Find(b.SystemID); ok {
			b.AccountName = c.AccountName
			if b.CustomAdminLevel == "" {
				b.CustomAdminLevel = c.CustomAdminLevel
			}
		}
	}
	if strings.TrimSpace(b.AccountName) == "" {
		return nil, s.done("bind_account", 0, b.SystemID, newError(KindValidation, "account_name", "account name is required"))
	}
	div, err := s.cacheBoundary(ctx, b.DivisionID, nil)
	if err != nil {
		return nil, s.done("bind_account", 0, b.SystemID, err)
	}
	if cur, err := s.store.GetMappingByAccount(ctx, b.SystemID); err == nil && cur.DivisionID != div.ID {
		return nil, s.done("bind_account", 0, b.SystemID, newError(KindMappingConflict, "system_id",
			"account "+b.SystemID+" is already mapped to "+cur.DivisionName+" ("+cur.DivisionSystemID+")"))
	}
	if cur, err := s.store.GetMappingByDivision(ctx, div.ID); err == nil && cur.SystemID != b.SystemID {
		return nil, s.done("bind_account", 0, b.SystemID, newError(KindMappingConflict, "division_id",
			div.Name+" ("+div.SystemID+") is already mapped to account "+cur.SystemID))
	}
	m, err := s.store.UpsertMapping(ctx, store.MappingInput{
		SystemID:         b.SystemID,
		DivisionID:       div.ID,
		AccountName:      b.AccountName,
		CustomAdminLevel: b.CustomAdminLevel,
	})
	if err != nil {
		return nil, s.done("bind_account", 0, b.SystemID, err)
	}
	logger.L().Info("account_bound", "system_id", m.SystemID, "division", m.DivisionSystemID)
	return m, s.done("bind_account", m.ID, m.SystemID, nil)
}

func (s *Service) UnbindAccount(ctx context.Context, systemID string) error {
	return s.done("unbind_account", 0, systemID, s.store.DeleteMappingByAccount(ctx, systemID))
}

func (s *Service) UnbindDivision(ctx context.Context, divisionSystemID string) error {
	d, err := s.store.GetDivisionBySystemID(ctx, divisionSystemID)
	if err != nil {
		return s.done("unbind_division", 0, divisionSystemID, err)
	}
	return s.done("unbind_division", d.ID, divisionSystemID, s.store.DeleteMappingByDivision(ctx, d.ID))
}

func (s *Service) Mappings(ctx context.Context) ([]store.Mapping, error) {
	out, err := s.store.ListMappings(ctx)
	return out, translate(err)
}

func (s *Service) MappingForAccount(ctx context.Context, systemID string) (*store.Mapping, error) {
	m, err := s.store.GetMappingByAccount(ctx, systemID)
	return m, translate(err)
}

func parseID(ref string) (int64, bool) {
	id, err := strconv.ParseInt(ref, 10, 64)
	return id, err == nil && id > 0
}
