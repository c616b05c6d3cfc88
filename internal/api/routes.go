// 包 api：集中注册 HTTP API 路由以解耦主入口；处理函数只做参数解析与响应编码，语义全部在 service 层
package api

import (
	"net/http"

	"overture-lists/internal/geoip"
	"overture-lists/internal/locate"
	"overture-lists/internal/service"
)

// Deps：路由依赖；Locator 与 GeoIP 可为空
type Deps struct {
	Service *service.Service
	Locator *locate.Locator
	GeoIP   *geoip.Resolver
}

type handlers struct{ Deps }

// BuildRoutes：独立 ServeMux，由主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	h := &handlers{d}
	mux := http.NewServeMux()

	route(mux, "GET /countries", h.countries)
	route(mux, "GET /countries/{cc}/division", h.countryDivision)
	route(mux, "GET /countries/{cc}/subtypes", h.subtypes)
	route(mux, "GET /countries/{cc}/boundaries", h.boundaries)
	route(mux, "GET /countries/{cc}/search", h.search)
	route(mux, "GET /divisions/{id}/children", h.children)
	route(mux, "GET /divisions/{id}/geometry", h.geometry)
	route(mux, "GET /divisions/{id}/admin-children", h.adminChildren)
	route(mux, "GET /divisions/{id}/admin-parents", h.adminParents)
	route(mux, "GET /divisions/{id}/lists", h.divisionLists)
	route(mux, "DELETE /divisions/{id}", h.purgeDivision)
	route(mux, "GET /cached-divisions", h.cachedDivisions)
	route(mux, "GET /locate", h.locate)
	route(mux, "GET /country-hint", h.countryHint)

	route(mux, "GET /lists", h.lists)
	route(mux, "POST /lists", h.createList)
	route(mux, "POST /lists/auto", h.autoList)
	route(mux, "POST /lists/import", h.importList)
	route(mux, "GET /lists/{id}", h.getList)
	route(mux, "PATCH /lists/{id}", h.updateList)
	route(mux, "PUT /lists/{id}/items", h.replaceItems)
	route(mux, "DELETE /lists/{id}", h.deleteList)
	route(mux, "GET /lists/{id}/export", h.exportList)

	route(mux, "GET /mappings", h.mappings)
	route(mux, "POST /mappings", h.bind)
	route(mux, "GET /mappings/export.csv", h.exportMappings)
	route(mux, "GET /mappings/{account}", h.mapping)
	route(mux, "DELETE /mappings/{account}", h.unbind)

	route(mux, "GET /relationships", h.relationships)
	route(mux, "POST /relationships", h.relate)
	route(mux, "DELETE /relationships/{id}", h.unrelate)

	route(mux, "GET /roster", h.roster)
	route(mux, "GET /stats", h.stats)
	return mux
}
