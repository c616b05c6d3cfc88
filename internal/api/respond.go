package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"overture-lists/internal/logger"
	"overture-lists/internal/metrics"
	"overture-lists/internal/service"

	"github.com/cockroachdb/errors"
)

// maxBody：写接口请求体上限
const maxBody = 4 << 20

// errorBody：统一错误响应
type errorBody struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// statusFor：错误分类到 HTTP 状态码
func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindEmptyList:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindDuplicate, service.KindMappingConflict, service.KindSelfRelationship:
		return http.StatusConflict
	case service.KindSourceUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func badRequest(field, msg string) error {
	return &service.Error{Kind: service.KindValidation, Field: field, Msg: msg}
}

func notFound(field, msg string) error {
	return &service.Error{Kind: service.KindNotFound, Field: field, Msg: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		logger.L().Error("api_unclassified_error", "err", err)
		se = &service.Error{Kind: service.KindInternal, Msg: "internal error"}
	}
	writeJSON(w, statusFor(se.Kind), errorBody{Error: string(se.Kind), Field: se.Field, Message: se.Msg})
}

// decodeJSON：拒绝未知字段与超长请求体
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("body", "invalid JSON body: "+err.Error())
	}
	return nil
}

// handlerFunc：返回错误的处理函数，错误统一由 route 写出
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type recorder struct {
	http.ResponseWriter
	status int
}

func (w *recorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// route：注册路由并记录请求数与耗时；pattern 同时作为指标标签
func route(mux *http.ServeMux, pattern string, h handlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		rw := &recorder{ResponseWriter: w, status: http.StatusOK}
		if err := h(rw, r); err != nil {
			writeError(rw, err)
		}
		metrics.RequestsTotal.WithLabelValues(pattern, strconv.Itoa(rw.status/100)+"xx").Inc()
		metrics.RequestDurationMs.WithLabelValues(pattern).Observe(float64(time.Since(begin).Milliseconds()))
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest(name, "must be a positive integer")
	}
	return id, nil
}
