package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"overture-lists/internal/locate"
	"overture-lists/internal/logger"
	"overture-lists/internal/migrate"
	"overture-lists/internal/overture"
	"overture-lists/internal/overture/overturetest"
	"overture-lists/internal/roster"
	"overture-lists/internal/service"
	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	src *overturetest.Source
	svc *service.Service
	mux *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Set(logger.Discard())
	st, err := store.Open(filepath.Join(t.TempDir(), "lists.db"))
	require.NoError(t, err)
	require.NoError(t, migrate.EnsureSchema(st.DB()))
	t.Cleanup(func() { _ = st.Close() })

	src := overturetest.New(
		overture.Division{ID: "c-us", Name: "United States", Subtype: "country", Country: "US"},
		overture.Division{ID: "c-ca", Name: "California", Subtype: "region", Country: "US", ParentID: "c-us"},
		overture.Division{ID: "c-or", Name: "Oregon", Subtype: "region", Country: "US", ParentID: "c-us"},
	)
	src.Geometries["c-ca"] = json.RawMessage(`{"type":"Polygon","coordinates":[[[-124,32],[-114,32],[-114,42],[-124,42],[-124,32]]]}`)

	rs, err := roster.New([]roster.Client{
		{SystemID: "ACC-1", AccountName: "Acme", Country: "US"},
		{SystemID: "ACC-2", AccountName: "Beta", Country: "CA"},
	})
	require.NoError(t, err)

	var loc *locate.Locator
	svc := service.New(st, src, service.WithRoster(rs), service.OnCommit(func(service.Event) { loc.Invalidate() }))
	loc = locate.New(st, 64, 0, 0)
	mux := BuildRoutes(Deps{Service: svc, Locator: loc})
	return &fixture{src: src, svc: svc, mux: mux}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("content-type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind, field string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	m := decodeBody(t, rec)
	assert.Equal(t, kind, m["error"])
	if field != "" {
		assert.Equal(t, field, m["field"])
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(service.KindValidation))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.KindEmptyList))
	assert.Equal(t, http.StatusNotFound, statusFor(service.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(service.KindDuplicate))
	assert.Equal(t, http.StatusConflict, statusFor(service.KindMappingConflict))
	assert.Equal(t, http.StatusConflict, statusFor(service.KindSelfRelationship))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(service.KindSourceUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.KindInternal))
}

func TestBrowseRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/countries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"US"}, decodeBody(t, rec)["countries"])

	rec = f.do(t, "GET", "/countries/us/division", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c-us", decodeBody(t, rec)["division_id"])

	rec = f.do(t, "GET", "/countries/US/boundaries?subtype=region", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["divisions"], 2)

	assertError(t, f.do(t, "GET", "/countries/US/search", ""), http.StatusBadRequest, "validation", "q")

	rec = f.do(t, "GET", "/divisions/c-ca/geometry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("content-type"))
	assert.Contains(t, rec.Body.String(), "Polygon")

	assertError(t, f.do(t, "GET", "/divisions/c-or/geometry", ""), http.StatusNotFound, "not_found", "geometry")
}

func TestSourceUnavailableIs503(t *testing.T) {
	f := newFixture(t)
	f.src.Fail = errors.New("no route to bucket")
	assertError(t, f.do(t, "GET", "/countries", ""), http.StatusServiceUnavailable, "source_unavailable", "")
}

func TestListLifecycle(t *testing.T) {
	f := newFixture(t)

	body := `{"name":"West","type":"division","boundaries":[{"division_id":"c-ca","name":"California","subtype":"region","country":"US"}]}`
	rec := f.do(t, "POST", "/lists", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, "West", created["name"])
	assert.EqualValues(t, 1, created["member_count"])
	publicID := created["list_id"].(string)

	assertError(t, f.do(t, "POST", "/lists", body), http.StatusConflict, "duplicate", "name")
	assertError(t, f.do(t, "POST", "/lists", `{"name":"Empty","type":"division"}`), http.StatusBadRequest, "empty_list", "")
	assertError(t, f.do(t, "POST", "/lists", `{"name":"X","type":"region","members":["c-ca"]}`), http.StatusBadRequest, "validation", "type")
	assertError(t, f.do(t, "POST", "/lists", `{"name":"X","colour":"red"}`), http.StatusBadRequest, "validation", "body")

	rec = f.do(t, "POST", "/lists", `{"name":"West","type":"client","members":["ACC-1"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/lists?type=division", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["lists"], 1)

	rec = f.do(t, "GET", "/lists/"+publicID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)
	assert.Equal(t, "division", doc["list_type"])
	assert.Len(t, doc["boundaries"], 1)

	rec = f.do(t, "PATCH", "/lists/"+publicID, `{"name":"Pacific","notes":"coast"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Pacific", decodeBody(t, rec)["name"])

	rec = f.do(t, "PUT", "/lists/"+publicID+"/items", `{"members":["c-ca","c-or"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["member_count"])

	rec = f.do(t, "GET", "/lists/"+publicID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("content-disposition"), publicID+".json")

	rec = f.do(t, "DELETE", "/lists/"+publicID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assertError(t, f.do(t, "GET", "/lists/"+publicID, ""), http.StatusNotFound, "not_found", "")
}

func TestAutoListAndImport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/lists/auto", `{"parent_division_id":"c-us","name":"US regions"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["member_count"])

	assertError(t, f.do(t, "POST", "/lists/auto", `{"parent_division_id":"c-us","name":"Admin","source":"admin"}`),
		http.StatusNotFound, "not_found", "")
	assertError(t, f.do(t, "POST", "/lists/auto", `{"parent_division_id":"c-us","name":"x","source":"magic"}`),
		http.StatusBadRequest, "validation", "source")

	rec = f.do(t, "POST", "/lists/import", `{"list_id":"old-1","list_name":"Legacy","boundaries":[{"gers_id":"c-or"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "old-1", decodeBody(t, rec)["list_id"])
}

func TestMappingRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/mappings", `{"system_id":"ACC-1","division_id":"c-ca","custom_admin_level":"Region"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decodeBody(t, rec)
	assert.Equal(t, "Acme", m["account_name"])
	assert.Equal(t, "c-ca", m["division_id"])

	assertError(t, f.do(t, "POST", "/mappings", `{"system_id":"ACC-2","division_id":"c-ca"}`), http.StatusConflict, "mapping_conflict", "division_id")
	assertError(t, f.do(t, "POST", "/mappings", `{"system_id":"ACC-1","division_id":"c-us"}`), http.StatusConflict, "mapping_conflict", "system_id")

	rec = f.do(t, "GET", "/mappings/export.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "division_id,system_id,account_name,custom_admin_level\nc-ca,ACC-1,Acme,Region\n", rec.Body.String())

	rec = f.do(t, "GET", "/mappings/ACC-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/mappings/ACC-1", "").Code)
	assertError(t, f.do(t, "DELETE", "/mappings/ACC-1", ""), http.StatusNotFound, "not_found", "")

	rec = f.do(t, "GET", "/mappings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["mappings"])
}

func TestRelationshipRoutes(t *testing.T) {
	f := newFixture(t)

	body := `{"parent_division_id":"c-us","child_division_id":"c-ca","relationship_type":"reports_to"}`
	rec := f.do(t, "POST", "/relationships", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rel := decodeBody(t, rec)
	assert.Equal(t, "c-us", rel["parent_division_id"])

	assertError(t, f.do(t, "POST", "/relationships", body), http.StatusConflict, "duplicate", "")
	assertError(t, f.do(t, "POST", "/relationships", `{"parent_division_id":"c-ca","child_division_id":"c-ca","relationship_type":"reports_to"}`),
		http.StatusConflict, "self_relationship", "")

	rec = f.do(t, "GET", "/divisions/c-us/admin-children", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["divisions"], 1)

	rec = f.do(t, "GET", "/relationships?division=c-ca", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["relationships"], 1)

	assertError(t, f.do(t, "DELETE", "/relationships/abc", ""), http.StatusBadRequest, "validation", "id")
	id := int(rel["id"].(float64))
	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/relationships/"+strconv.Itoa(id), "").Code)
}

func TestLocateAndPurge(t *testing.T) {
	f := newFixture(t)

	assertError(t, f.do(t, "GET", "/locate?lat=37&lon=-120", ""), http.StatusNotFound, "not_found", "")

	_, err := f.svc.EnsureGeometry(context.Background(), "c-ca")
	require.NoError(t, err)
	// 几何回填不经过提交回调，由创建映射触发快照失效
	rec := f.do(t, "POST", "/mappings", `{"system_id":"ACC-1","division_id":"c-ca"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/locate?lat=37&lon=-120", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "c-ca", decodeBody(t, rec)["division_id"])

	assertError(t, f.do(t, "GET", "/locate?lat=abc&lon=1", ""), http.StatusBadRequest, "validation", "lat")
	assertError(t, f.do(t, "GET", "/locate?lat=95&lon=1", ""), http.StatusBadRequest, "validation", "lat")

	rec = f.do(t, "GET", "/divisions/c-ca/lists", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decodeBody(t, rec)["lists"])

	assert.Equal(t, http.StatusNoContent, f.do(t, "DELETE", "/divisions/c-ca", "").Code)
	assertError(t, f.do(t, "GET", "/divisions/c-ca/lists", ""), http.StatusNotFound, "not_found", "")
	rec = f.do(t, "GET", "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)
	assert.EqualValues(t, 0, stats["mappings"])
	assertError(t, f.do(t, "GET", "/locate?lat=37&lon=-120", ""), http.StatusNotFound, "not_found", "")
}

func TestRosterAndCountryHint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/roster?country=us", "")
	require.Equal(t, http.StatusOK, rec.Code)
	clients := decodeBody(t, rec)["clients"].([]any)
	require.Len(t, clients, 1)
	assert.Equal(t, "ACC-1", clients[0].(map[string]any)["system_id"])

	rec = f.do(t, "GET", "/country-hint?ip=8.8.8.8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	hint := decodeBody(t, rec)
	assert.Equal(t, false, hint["available"])
	assert.Equal(t, "", hint["country"])
}
