package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"time"

	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
)

// ListDocument：列表导出文档
type ListDocument struct {
	ListID      string            `json:"list_id"`
	ListName    string            `json:"list_name"`
	Description string            `json:"description"`
	CreatedAt   string            `json:"created_at"`
	ListType    store.ListType    `json:"list_type"`
	Boundaries  []BoundarySummary `json:"boundaries"`
	Clients     []ClientSummary   `json:"clients,omitempty"`
}

type BoundarySummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subtype string `json:"subtype"`
	Country string `json:"country"`
}

// ClientSummary：名册与映射可提供的客户信息；未知字段留空
type ClientSummary struct {
	SystemID         string `json:"system_id"`
	AccountName      string `json:"account_name,omitempty"`
	Country          string `json:"country,omitempty"`
	CustomAdminLevel string `json:"custom_admin_level,omitempty"`
	DivisionID       string `json:"division_id,omitempty"`
}

// LoadList：按内部 id 或 public_id 读取完整列表
func (s *Service) LoadList(ctx context.Context, ref string) (*ListDocument, error) {
	l, err := s.ResolveList(ctx, ref)
	if err != nil {
		return nil, err
	}
	doc := &ListDocument{
		ListID:      l.PublicID,
		ListName:    l.Name,
		Description: l.Notes,
		CreatedAt:   l.CreatedAt.UTC().Format(time.RFC3339),
		ListType:    l.Type,
		Boundaries:  []BoundarySummary{},
	}
	switch l.Type {
	case store.ListTypeDivision:
		divs, err := s.store.ListDivisionMembers(ctx, l.ID)
		if err != nil {
			return nil, translate(err)
		}
		for _, d := range divs {
			doc.Boundaries = append(doc.Boundaries, BoundarySummary{ID: d.SystemID, Name: d.Name, Subtype: d.Subtype, Country: d.Country})
		}
	case store.ListTypeClient:
		ids, err := s.store.ListClientMembers(ctx, l.ID)
		if err != nil {
			return nil, translate(err)
		}
		for _, id := range ids {
			doc.Clients = append(doc.Clients, s.clientSummary(ctx, id))
		}
	}
	return doc, nil
}

func (s *Service) clientSummary(ctx context.Context, systemID string) ClientSummary {
	c := ClientSummary{SystemID: systemID}
	if s.roster != nil {
		if r, ok := s.roster.Find(systemID); ok {
			c.AccountName, c.Country, c.CustomAdminLevel = r.AccountName, r.Country, r.CustomAdminLevel
		}
	}
	if m, err := s.store.GetMappingByAccount(ctx, systemID); err == nil {
		c.DivisionID = m.DivisionSystemID
		if c.AccountName == "" {
			c.AccountName = m.AccountName
		}
		if c.CustomAdminLevel == "" {
			c.CustomAdminLevel = m.CustomAdminLevel
		}
		if c.Country == "" {
			c.Country = m.Country
		}
	}
	return c
}

// ExportList：以缩进 JSON 写出列表文档
func (s *Service) ExportList(ctx context.Context, ref string, w io.Writer) error {
	doc, err := s.LoadList(ctx, ref)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return translate(errors.Wrap(err, "write list export"))
	}
	return nil
}

// MappingsCSVHeader：映射导出的列（不含几何）
var MappingsCSVHeader = []string{"division_id", "system_id", "account_name", "custom_admin_level"}

// ExportMappingsCSV：division_id 为数据集中的行政区 id
func (s *Service) ExportMappingsCSV(ctx context.Context, w io.Writer) (int, error) {
	ms, err := s.store.ListMappings(ctx)
	if err != nil {
		return 0, translate(err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(MappingsCSVHeader); err != nil {
		return 0, translate(errors.Wrap(err, "write csv header"))
	}
	for _, m := range ms {
		if err := cw.Write([]string{m.DivisionSystemID, m.SystemID, m.AccountName, m.CustomAdminLevel}); err != nil {
			return 0, translate(errors.Wrap(err, "write csv row"))
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, translate(errors.Wrap(err, "flush csv"))
	}
	return len(ms), nil
}
