package service

import (
	"strings"

	"overture-lists/internal/overture"
	"overture-lists/internal/store"
)

// Draft：调用方持有的待保存列表（替代会话级“当前列表”）
// 约束：种类在构造时确定；成员按加入顺序去重；只在 SaveList/ReplaceItems 时交给服务
type Draft struct {
	PublicID string         `json:"list_id" validate:"omitempty,max=64"`
	Name     string         `json:"name" validate:"required,max=200"`
	Type     store.ListType `json:"type" validate:"oneof=division client"`
	Notes    string         `json:"notes" validate:"max=4000"`

	ids  []string
	meta map[string]overture.Division
}

func NewDivisionDraft(name string) *Draft {
	return &Draft{Name: name, Type: store.ListTypeDivision, meta: map[string]overture.Division{}}
}

func NewClientDraft(name string) *Draft {
	return &Draft{Name: name, Type: store.ListTypeClient, meta: map[string]overture.Division{}}
}

// Add：按 id 加入；已存在时返回 false
func (d *Draft) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || d.Contains(id) {
		return false
	}
	d.ids = append(d.ids, id)
	return true
}

// AddDivision：连同数据集元数据加入，保存时省去一次回源
func (d *Draft) AddDivision(div overture.Division) bool {
	if d.meta == nil {
		d.meta = map[string]overture.Division{}
	}
	if !d.Add(div.ID) {
		return false
	}
	d.meta[strings.TrimSpace(div.ID)] = div
	return true
}

func (d *Draft) Remove(id string) bool {
	id = strings.TrimSpace(id)
	for i, v := range d.ids {
		if v == id {
			d.ids = append(d.ids[:i], d.ids[i+1:]...)
			delete(d.meta, id)
			return true
		}
	}
	return false
}

func (d *Draft) Contains(id string) bool {
	for _, v := range d.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (d *Draft) Len() int { return len(d.ids) }

func (d *Draft) Items() []string { return append([]string(nil), d.ids...) }

func (d *Draft) Clear() {
	d.ids = nil
	d.meta = map[string]overture.Division{}
}

func (d *Draft) known(id string) (overture.Division, bool) {
	div, ok := d.meta[id]
	return div, ok
}
