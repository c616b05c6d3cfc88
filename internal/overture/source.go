// 包 overture：Overture Maps divisions 主题的只读查询层（GeoParquet，本地或对象存储）
//
// 背景：数据集按发布版本不可变，所有查询都是纯读取，结果可按入参缓存（见 querycache）。
// 约束：数据源打不开或读失败统一返回 ErrSourceUnavailable；“没有匹配”返回空切片或 ErrDivisionNotFound，调用方据此区分两种情况。
package overture

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var (
	ErrSourceUnavailable = errors.New("overture: boundary dataset unavailable")
	ErrDivisionNotFound  = errors.New("overture: division not found")
	ErrGeometryNotFound  = errors.New("overture: geometry not found")
)

const (
	MaxChildren      = 1000
	MaxSearchResults = 100

	// SimplifyTolerance：约 100 m 的抽稀阈值（度）
	SimplifyTolerance = 0.001

	ClassLand      = "land"
	SubtypeCountry = "country"
)

// Division：数据集中的一条行政区记录
type Division struct {
	ID       string `json:"division_id"`
	Name     string `json:"name"`
	Subtype  string `json:"subtype"`
	Class    string `json:"class,omitempty"`
	Country  string `json:"country"`
	ParentID string `json:"parent_division_id,omitempty"`
}

// Filter：Boundaries 的筛选条件；Country 必填，其余为空表示不限
type Filter struct {
	Country  string
	Subtype  string
	ParentID string
}

// Source：行政区数据源
type Source interface {
	Countries(ctx context.Context) ([]string, error)
	Subtypes(ctx context.Context, country string) ([]string, error)
	Boundaries(ctx context.Context, f Filter) ([]Division, error)
	Children(ctx context.Context, parentID string) ([]Division, error)
	CountryDivision(ctx context.Context, country string) (*Division, error)
	Division(ctx context.Context, id string) (*Division, error)
	Geometry(ctx context.Context, id string) (json.RawMessage, error)
	Search(ctx context.Context, country, term string) ([]Division, error)
}

// UnavailableError：数据源读取失败；保留底层原因，errors.Is(err, ErrSourceUnavailable) 在标准库与 cockroachdb/errors 下均成立
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string { return e.Cause.Error() }

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }

// Unavailable：把读取错误包装为 UnavailableError；已包装过的原样返回
func Unavailable(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return &UnavailableError{Cause: errors.Wrap(err, what)}
}
