package api

import (
	"net/http"
	"strconv"

	"overture-lists/internal/geoip"
	"overture-lists/internal/locate"
	"overture-lists/internal/overture"
	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
)

func (h *handlers) countries(w http.ResponseWriter, r *http.Request) error {
	cs, err := h.Service.Countries(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": cs})
	return nil
}

func (h *handlers) countryDivision(w http.ResponseWriter, r *http.Request) error {
	d, err := h.Service.CountryDivision(r.Context(), r.PathValue("cc"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, d)
	return nil
}

func (h *handlers) subtypes(w http.ResponseWriter, r *http.Request) error {
	st, err := h.Service.Subtypes(r.Context(), r.PathValue("cc"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"subtypes": st})
	return nil
}

func (h *handlers) boundaries(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	out, err := h.Service.Boundaries(r.Context(), overture.Filter{
		Country:  r.PathValue("cc"),
		Subtype:  q.Get("subtype"),
		ParentID: q.Get("parent"),
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": out})
	return nil
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) error {
	term := r.URL.Query().Get("q")
	if term == "" {
		return badRequest("q", "search term is required")
	}
	out, err := h.Service.Search(r.Context(), r.PathValue("cc"), term)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": out})
	return nil
}

func (h *handlers) children(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.Children(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": out})
	return nil
}

// geometry：直接输出 GeoJSON 几何原文
func (h *handlers) geometry(w http.ResponseWriter, r *http.Request) error {
	g, err := h.Service.Geometry(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	w.Header().Set("content-type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(g)
	return nil
}

func (h *handlers) adminChildren(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.AdminChildren(r.Context(), r.PathValue("id"), store.RelationshipType(r.URL.Query().Get("type")))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": cachedView(out)})
	return nil
}

func (h *handlers) adminParents(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.AdminParents(r.Context(), r.PathValue("id"), store.RelationshipType(r.URL.Query().Get("type")))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": cachedView(out)})
	return nil
}

func (h *handlers) divisionLists(w http.ResponseWriter, r *http.Request) error {
	out, err := h.Service.ListsContaining(r.Context(), r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"lists": out})
	return nil
}

func (h *handlers) purgeDivision(w http.ResponseWriter, r *http.Request) error {
	if err := h.Service.PurgeDivision(r.Context(), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *handlers) cachedDivisions(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	out, err := h.Service.CachedDivisions(r.Context(), store.DivisionFilter{
		Country:      q.Get("country"),
		Subtype:      q.Get("subtype"),
		WithGeometry: q.Get("with_geometry") == "true",
		Limit:        limit,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"divisions": cachedView(out)})
	return nil
}

// cachedDivision：本地缓存记录的对外视图（不含几何）
type cachedDivision struct {
	ID          int64  `json:"id"`
	DivisionID  string `json:"division_id"`
	Name        string `json:"name"`
	Subtype     string `json:"subtype"`
	Country     string `json:"country"`
	HasGeometry bool   `json:"has_geometry"`
}

func cachedView(ds []store.Division) []cachedDivision {
	out := make([]cachedDivision, 0, len(ds))
	for _, d := range ds {
		out = append(out, cachedDivision{ID: d.ID, DivisionID: d.SystemID, Name: d.Name, Subtype: d.Subtype, Country: d.Country, HasGeometry: d.HasGeometry()})
	}
	return out
}

func (h *handlers) locate(w http.ResponseWriter, r *http.Request) error {
	if h.Locator == nil {
		return notFound("", "point lookup is disabled")
	}
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		return badRequest("lat", "lat must be a number")
	}
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		return badRequest("lon", "lon must be a number")
	}
	hit, ok, err := h.Locator.Locate(r.Context(), lat, lon)
	if errors.Is(err, locate.ErrOutOfRange) {
		return badRequest("lat", "coordinate out of range")
	}
	if err != nil {
		return err
	}
	if !ok {
		return notFound("", "no cached division contains this point")
	}
	writeJSON(w, http.StatusOK, hit)
	return nil
}

// countryHint：无库或无法解析时返回空国家，前端退回手动选择
func (h *handlers) countryHint(w http.ResponseWriter, r *http.Request) error {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = geoip.ClientIP(r)
	}
	cc, err := h.GeoIP.CountryCode(ip)
	if err != nil {
		cc = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "country": cc, "available": h.GeoIP.Enabled()})
	return nil
}
