package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"overture-lists/internal/logger"
	"overture-lists/internal/overture"
	"overture-lists/internal/store"

	"github.com/cockroachdb/errors"
)

// legacyList：旧版按文件保存的列表（list_data/<list_id>.json）
type legacyList struct {
	ListID      string       `json:"list_id"`
	ListName    string       `json:"list_name"`
	Description string       `json:"description"`
	CreatedAt   string       `json:"created_at"`
	Boundaries  []legacyItem `json:"boundaries"`
}

// legacyItem：行政区条目使用 gers_id 或 division_id，客户条目使用 system_id
type legacyItem struct {
	GersID     string `json:"gers_id"`
	DivisionID string `json:"division_id"`
	SystemID   string `json:"system_id"`
	Name       string `json:"name"`
	Subtype    string `json:"subtype"`
	AdminLevel string `json:"admin_level"`
	Country    string `json:"country"`
}

// ImportLegacyList：导入一份旧版列表文件；list_id 作为 public_id 保留
func (s *Service) ImportLegacyList(ctx context.Context, r io.Reader, t store.ListType) (*store.List, error) {
	var doc legacyList
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, s.done("import_legacy", 0, "", newError(KindValidation, "file", "not a legacy list document: "+err.Error()))
	}
	var d *Draft
	switch t {
	case store.ListTypeDivision:
		d = NewDivisionDraft(doc.ListName)
		for _, it := range doc.Boundaries {
			id := it.DivisionID
			if id == "" {
				id = it.GersID
			}
			subtype := it.Subtype
			if subtype == "" {
				subtype = it.AdminLevel
			}
			if strings.TrimSpace(it.Name) == "" {
				d.Add(id)
				continue
			}
			d.AddDivision(overture.Division{ID: id, Name: it.Name, Subtype: subtype, Country: it.Country})
		}
	case store.ListTypeClient:
		d = NewClientDraft(doc.ListName)
		for _, it := range doc.Boundaries {
			d.Add(it.SystemID)
		}
	default:
		return nil, s.done("import_legacy", 0, "", newError(KindValidation, "type", "list type must be division or client"))
	}
	d.PublicID = doc.ListID
	d.Notes = doc.Description
	return s.SaveList(ctx, d)
}

// ImportResult：目录导入的逐文件结果
type ImportResult struct {
	File  string
	List  *store.List
	Error error
}

// ImportLegacyDir：导入目录下全部 *.json；单个文件失败不影响其它文件
func (s *Service) ImportLegacyDir(ctx context.Context, dir string, t store.ListType) ([]ImportResult, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, translate(errors.Wrap(err, "scan legacy dir"))
	}
	sort.Strings(files)
	out := make([]ImportResult, 0, len(files))
	for _, f := range files {
		res := ImportResult{File: f}
		fh, err := os.Open(f)
		if err != nil {
			res.Error = newError(KindNotFound, "file", err.Error())
			out = append(out, res)
			continue
		}
		res.List, res.Error = s.ImportLegacyList(ctx, fh, t)
		_ = fh.Close()
		if res.Error != nil {
			logger.L().Warn("legacy_import_failed", "file", f, "err", res.Error)
		}
		out = append(out, res)
	}
	return out, nil
}
