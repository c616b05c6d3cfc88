package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Division：本地缓存的行政区记录
// 约束：GeometryJSON 是几何的权威副本；crm_mappings 中的几何仅为导出用镜像
type Division struct {
	ID           int64          `db:"id"`
	SystemID     string         `db:"system_id"`
	Name         string         `db:"name"`
	Subtype      string         `db:"subtype"`
	Country      string         `db:"country"`
	GeometryJSON sql.NullString `db:"geometry_json"`
	CachedAt     time.Time      `db:"cached_at"`
}

func (d Division) HasGeometry() bool { return d.GeometryJSON.Valid && d.GeometryJSON.String != "" }

// Geometry：返回 GeoJSON 原文，未缓存时为 nil
func (d Division) Geometry() json.RawMessage {
	if !d.HasGeometry() {
		return nil
	}
	return json.RawMessage(d.GeometryJSON.String)
}

// DivisionInput：缓存写入参数，Geometry 可为空（稍后回填）
type DivisionInput struct {
	SystemID string
	Name     string
	Subtype  string
	Country  string
	Geometry json.RawMessage
}

type ListType string

const (
	ListTypeDivision ListType = "division"
	ListTypeClient   ListType = "client"
)

func (t ListType) Valid() bool { return t == ListTypeDivision || t == ListTypeClient }

// List：列表元数据；MemberCount 由查询时聚合
type List struct {
	ID          int64     `db:"id" json:"id"`
	PublicID    string    `db:"public_id" json:"list_id"`
	Name        string    `db:"name" json:"name"`
	Type        ListType  `db:"type" json:"type"`
	Notes       string    `db:"notes" json:"notes"`
	Hash        string    `db:"hash" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
	MemberCount int       `db:"member_count" json:"member_count"`
}

// NewList：建表参数；按 Type 只允许填写一种成员
type NewList struct {
	PublicID    string
	Name        string
	Type        ListType
	Notes       string
	DivisionIDs []int64
	ClientIDs   []string
}

// ListUpdate：nil 字段保持不变
type ListUpdate struct {
	Name  *string
	Notes *string
}

// Mapping：账户与行政区的 1:1 绑定，携带行政区元数据与几何的反规范化副本
type Mapping struct {
	ID               int64          `db:"id"`
	SystemID         string         `db:"system_id"`
	DivisionID       int64          `db:"division_id"`
	AccountName      string         `db:"account_name"`
	CustomAdminLevel string         `db:"custom_admin_level"`
	DivisionName     string         `db:"division_name"`
	OvertureSubtype  string         `db:"overture_subtype"`
	Country          string         `db:"country"`
	GeometryJSON     sql.NullString `db:"geometry_json"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`

	// DivisionSystemID 来自 divisions 表的联查，导出时使用
	DivisionSystemID string `db:"division_system_id"`
}

// MappingInput：Geometry 为空时镜像行政区缓存中的几何
type MappingInput struct {
	SystemID         string
	DivisionID       int64
	AccountName      string
	CustomAdminLevel string
	Geometry         json.RawMessage
}

type RelationshipType string

const (
	ReportsTo        RelationshipType = "reports_to"
	CollaboratesWith RelationshipType = "collaborates_with"
)

func (t RelationshipType) Valid() bool { return t == ReportsTo || t == CollaboratesWith }

// Relationship：组织层级中的有向边，与数据集自身的父子指针无关
type Relationship struct {
	ID               int64            `db:"id" json:"id"`
	ParentDivisionID int64            `db:"parent_division_id" json:"-"`
	ChildDivisionID  int64            `db:"child_division_id" json:"-"`
	Type             RelationshipType `db:"relationship_type" json:"relationship_type"`
	Notes            string           `db:"notes" json:"notes"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`

	ParentSystemID string `db:"parent_system_id" json:"parent_division_id"`
	ParentName     string `db:"parent_name" json:"parent_name"`
	ChildSystemID  string `db:"child_system_id" json:"child_division_id"`
	ChildName      string `db:"child_name" json:"child_name"`
}

type RelationshipInput struct {
	ParentID int64
	ChildID  int64
	Type     RelationshipType
	Notes    string
}
