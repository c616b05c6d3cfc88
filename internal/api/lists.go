package api

import (
	"net/http"

	"overture-lists/internal/overture"
	"overture-lists/internal/service"
	"overture-lists/internal/store"
)

// createListRequest：members 为纯 id；boundaries 携带元数据，可省去一次回源
type createListRequest struct {
	ListID     string              `json:"list_id"`
	Name       string              `json:"name"`
	Type       store.ListType      `json:"type"`
	Notes      string              `json:"notes"`
	Members    []string            `json:"members"`
	Boundaries []overture.Division `json:"boundaries"`
}

func (req createListRequest) draft() (*service.Draft, error) {
	var d *service.Draft
	switch req.Type {
	case store.ListTypeDivision:
		d = service.NewDivisionDraft(req.Name)
		for _, b := range req.Boundaries {
			d.AddDivision(b)
		}
	case store.ListTypeClient:
		if len(req.Boundaries) > 0 {
			return nil, badRequest("boundaries", "client lists take members only")
		}
		d = service.NewClientDraft(req.Name)
	default:
		return nil, badRequest("type", "list type must be division or client")
	}
	for _, id := range req.Members {
		d.Add(id)
	}
	d.PublicID = req.ListID
	d.Notes = req.Notes
	return d, nil
}

func (h *handlers) lists(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.Lists(r.Context(), store.ListType(r.URL.Query().Get("type")))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": out})
	return nil
}

func (h *handlers) createList(w http.ResponseWriter, r *http.Request) error {
	var req createListRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	d, err := req.draft()
	if err != nil {
		return err
	}
	l, err := h.Service.SaveList(r.Context(), d)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, l)
	return nil
}

type autoListRequest struct {
	ParentID         string                 `json:"parent_division_id"`
	Name             string                 `json:"name"`
	Notes            string                 `json:"notes"`
	Source           string                 `json:"source"`
	RelationshipType store.RelationshipType `json:"relationship_type"`
}

// autoList：source=spatial 按数据集父子关系，source=admin 按组织关系表
func (h *handlers) autoList(w http.ResponseWriter, r *http.Request) error {
	var req autoListRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ParentID == "" {
		return badRequest("parent_division_id", "parent division is required")
	}
	var (
		l   *store.List
		err error
	)
	switch req.Source {
	case "", "spatial":
		l, err = h.Service.BuildFromSpatial(r.Context(), req.ParentID, req.Name, req.Notes)
	case "admin":
		l, err = h.Service.BuildFromAdmin(r.Context(), req.ParentID, req.RelationshipType, req.Name, req.Notes)
	default:
		return badRequest("source", "source must be spatial or admin")
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, l)
	return nil
}

// importList：请求体为旧版列表文件原文，类型由 ?type= 指定（默认 division）
func (h *handlers) importList(w http.ResponseWriter, r *http.Request) error {
	t := store.ListType(r.URL.Query().Get("type"))
	if t == "" {
		t = store.ListTypeDivision
	}
	l, err := h.Service.ImportLegacyList(r.Context(), http.MaxBytesReader(w, r.Body, maxBody), t)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, l)
	return nil
}

func (h *handlers) getList(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.Service.LoadList(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, doc)
	return nil
}

type updateListRequest struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

func (h *handlers) updateList(w http.ResponseWriter, r *http.Request) error {
	l, err := h.Service.ResolveList(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	var req updateListRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Name == nil && req.Notes == nil {
		return badRequest("body", "nothing to update")
	}
	if req.Name != nil {
		if l, err = h.Service.RenameList(r.Context(), l.ID, *req.Name); err != nil {
			return err
		}
	}
	if req.Notes != nil {
		if l, err = h.Service.UpdateNotes(r.Context(), l.ID, *req.Notes); err != nil {
			return err
		}
	}
	writeJSON(w, http.StatusOK, l)
	return nil
}

func (h *handlers) replaceItems(w http.ResponseWriter, r *http.Request) error {
	cur, err := h.Service.ResolveList(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	var req createListRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	req.Name, req.Type = cur.Name, cur.Type
	d, err := req.draft()
	if err != nil {
		return err
	}
	l, err := h.Service.ReplaceItems(r.Context(), cur.ID, d)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, l)
	return nil
}

func (h *handlers) deleteList(w http.ResponseWriter, r *http.Request) error {
	l, err := h.Service.ResolveList(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	if err := h.Service.DeleteList(r.Context(), l.ID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *handlers) exportList(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.Service.LoadList(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	w.Header().Set("content-disposition", `attachment; filename="`+doc.ListID+`.json"`)
	writeJSON(w, http.StatusOK, doc)
	return nil
}
