// 包 roster：读取 CRM 客户名册（JSON 数组），提供按国家筛选与按账户查找
package roster

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"overture-lists/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// Client：名册中的一条账户记录；division_* 字段为可选的预绑定提示
type Client struct {
	SystemID         string `json:"system_id" validate:"required"`
	AccountName      string `json:"account_name" validate:"required"`
	Country          string `json:"country" validate:"required,len=2"`
	CustomAdminLevel string `json:"custom_admin_level"`
	DivisionID       string `json:"division_id,omitempty"`
	DivisionName     string `json:"division_name,omitempty"`
}

// Roster：只读快照，会话开始时整体加载
type Roster struct {
	clients []Client
	byID    map[string]int
}

var validate = validator.New()

// Load：文件不存在视为空名册；格式错误或记录缺字段返回错误
func Load(path string) (*Roster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Info("roster_missing", "path", path)
			return New(nil)
		}
		return nil, errors.Wrapf(err, "read roster %s", path)
	}
	var clients []Client
	if err := json.Unmarshal(b, &clients); err != nil {
		return nil, errors.Wrapf(err, "parse roster %s: expected a JSON array", path)
	}
	r, err := New(clients)
	if err != nil {
		return nil, errors.Wrapf(err, "roster %s", path)
	}
	logger.L().Debug("roster_loaded", "path", path, "clients", r.Len())
	return r, nil
}

// New：校验并建立索引；system_id 重复视为错误
func New(clients []Client) (*Roster, error) {
	r := &Roster{clients: make([]Client, 0, len(clients)), byID: make(map[string]int, len(clients))}
	for i, c := range clients {
		c.SystemID = strings.TrimSpace(c.SystemID)
		c.Country = strings.ToUpper(strings.TrimSpace(c.Country))
		if err := validate.Struct(c); err != nil {
			return nil, errors.Wrapf(err, "client #%d", i)
		}
		if _, dup := r.byID[c.SystemID]; dup {
			return nil, errors.Newf("client #%d: duplicate system_id %s", i, c.SystemID)
		}
		r.byID[c.SystemID] = len(r.clients)
		r.clients = append(r.clients, c)
	}
	return r, nil
}

func (r *Roster) Len() int { return len(r.clients) }

func (r *Roster) All() []Client { return append([]Client(nil), r.clients...) }

// Countries：去重后排序的国家代码
func (r *Roster) Countries() []string {
	seen := map[string]struct{}{}
	for _, c := range r.clients {
		seen[c.Country] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (r *Roster) FilterByCountry(country string) []Client {
	country = strings.ToUpper(strings.TrimSpace(country))
	out := []Client{}
	for _, c := range r.clients {
		if c.Country == country {
			out = append(out, c)
		}
	}
	return out
}

func (r *Roster) Find(systemID string) (Client, bool) {
	i, ok := r.byID[strings.TrimSpace(systemID)]
	if !ok {
		return Client{}, false
	}
	return r.clients[i], true
}

func (r *Roster) Has(systemID string) bool {
	_, ok := r.byID[strings.TrimSpace(systemID)]
	return ok
}
