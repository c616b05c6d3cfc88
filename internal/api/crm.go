package api

import (
	"net/http"
	"strings"

	"overture-lists/internal/roster"
	"overture-lists/internal/service"
	"overture-lists/internal/store"
)

func (h *handlers) mappings(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.Mappings(r.Context())
	if err != nil {
		return err
	}
	views := make([]mappingView, 0, len(out))
	for _, m := range out {
		views = append(views, viewMapping(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mappings": views})
	return nil
}

// mappingView：对外不返回几何副本
type mappingView struct {
	SystemID         string `json:"system_id"`
	AccountName      string `json:"account_name"`
	CustomAdminLevel string `json:"custom_admin_level"`
	DivisionID       string `json:"division_id"`
	DivisionName     string `json:"division_name"`
	Subtype          string `json:"overture_subtype"`
	Country          string `json:"country"`
	HasGeometry      bool   `json:"has_geometry"`
	UpdatedAt        string `json:"updated_at"`
}

func viewMapping(m store.Mapping) mappingView {
	return mappingView{
		SystemID:         m.SystemID,
		AccountName:      m.AccountName,
		CustomAdminLevel: m.CustomAdminLevel,
		DivisionID:       m.DivisionSystemID,
		DivisionName:     m.DivisionName,
		Subtype:          m.OvertureSubtype,
		Country:          m.Country,
		HasGeometry:      m.GeometryJSON.Valid && m.GeometryJSON.String != "",
		UpdatedAt:        m.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (h *handlers) mapping(w http.ResponseWriter, r *http.Request) error {
	m, err := h.Service.MappingForAccount(r.Context(), r.PathValue("account"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewMapping(*m))
	return nil
}

func (h *handlers) bind(w http.ResponseWriter, r *http.Request) error {
	var b service.Binding
	if err := decodeJSON(r, &b); err != nil {
		return err
	}
	m, err := h.Service.BindAccount(r.Context(), b)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewMapping(*m))
	return nil
}

func (h *handlers) unbind(w http.ResponseWriter, r *http.Request) error {
	if err := h.Service.UnbindAccount(r.Context(), r.PathValue("account")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *handlers) exportMappings(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("content-type", "text/csv; charset=utf-8")
	w.Header().Set("content-disposition", `attachment; filename="crm_mappings.csv"`)
	_, err := h.Service.ExportMappingsCSV(r.Context(), w)
	return err
}

func (h *handlers) relationships(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.Relationships(r.Context(), r.URL.Query().Get("division"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": out})
	return nil
}

type relateRequest struct {
	ParentID string                 `json:"parent_division_id"`
	ChildID  string                 `json:"child_division_id"`
	Type     store.RelationshipType `json:"relationship_type"`
	Notes    string                 `json:"notes"`
}

func (h *handlers) relate(w http.ResponseWriter, r *http.Request) error {
	var req relateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	rel, err := h.Service.Relate(r.Context(), req.ParentID, req.ChildID, req.Type, req.Notes)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, rel)
	return nil
}

func (h *handlers) unrelate(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := h.Service.Unrelate(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// roster：?country= 过滤；未加载名册时返回空数组
func (h *handlers) roster(w http.ResponseWriter, r *http.Request) error {
	out := []roster.Client{}
	if rs := h.Service.Roster(); rs != nil {
		if cc := strings.TrimSpace(r.URL.Query().Get("country")); cc != "" {
			out = append(out, rs.FilterByCountry(cc)...)
		} else {
			out = append(out, rs.All()...)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
	return nil
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) error {
	c, err := h.Service.Stats(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, c)
	return nil
}
