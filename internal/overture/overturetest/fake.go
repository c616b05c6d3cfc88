// 包 overturetest：内存版 overture.Source，供其它包的测试使用
package overturetest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"overture-lists/internal/overture"

	"github.com/cockroachdb/errors"
)

// Source：按调用计数的内存数据源；Fail 非空时所有调用返回该错误（包装为 ErrSourceUnavailable）
type Source struct {
	mu         sync.Mutex
	Divisions  []overture.Division
	Geometries map[string]json.RawMessage
	Fail       error
	calls      map[string]int
}

func New(divs ...overture.Division) *Source {
	return &Source{Divisions: divs, Geometries: map[string]json.RawMessage{}, calls: map[string]int{}}
}

func (s *Source) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Source) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[op]++
	if s.Fail != nil {
		return overture.Unavailable(s.Fail, op)
	}
	return nil
}

func (s *Source) where(keep func(overture.Division) bool, limit int) []overture.Division {
	out := []overture.Division{}
	for _, d := range s.Divisions {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Source) Countries(context.Context) ([]string, error) {
	if err := s.enter("countries"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, d := range s.Divisions {
		if !seen[d.Country] {
			seen[d.Country] = true
			out = append(out, d.Country)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Subtypes(_ context.Context, country string) ([]string, error) {
	if err := s.enter("subtypes"); err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, d := range s.Divisions {
		if d.Country == country && !seen[d.Subtype] {
			seen[d.Subtype] = true
			out = append(out, d.Subtype)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Boundaries(_ context.Context, f overture.Filter) ([]overture.Division, error) {
	if err := s.enter("boundaries"); err != nil {
		return nil, err
	}
	return s.where(func(d overture.Division) bool {
		return (f.Country == "" || d.Country == f.Country) &&
			(f.Subtype == "" || d.Subtype == f.Subtype) &&
			(f.ParentID == "" || d.ParentID == f.ParentID)
	}, overture.MaxChildren), nil
}

func (s *Source) Children(_ context.Context, parentID string) ([]overture.Division, error) {
	if err := s.enter("children"); err != nil {
		return nil, err
	}
	return s.where(func(d overture.Division) bool { return d.ParentID == parentID }, overture.MaxChildren), nil
}

func (s *Source) CountryDivision(_ context.Context, country string) (*overture.Division, error) {
	if err := s.enter("country"); err != nil {
		return nil, err
	}
	for _, d := range s.Divisions {
		if d.Country == country && d.Subtype == overture.SubtypeCountry {
			d := d
			return &d, nil
		}
	}
	return nil, errors.Wrap(overture.ErrDivisionNotFound, country)
}

func (s *Source) Division(_ context.Context, id string) (*overture.Division, error) {
	if err := s.enter("division"); err != nil {
		return nil, err
	}
	for _, d := range s.Divisions {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, errors.Wrap(overture.ErrDivisionNotFound, id)
}

func (s *Source) Geometry(_ context.Context, id string) (json.RawMessage, error) {
	if err := s.enter("geometry"); err != nil {
		return nil, err
	}
	if g, ok := s.Geometries[id]; ok {
		return g, nil
	}
	return nil, errors.Wrap(overture.ErrGeometryNotFound, id)
}

func (s *Source) Search(_ context.Context, country, term string) ([]overture.Division, error) {
	if err := s.enter("search"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	return s.where(func(d overture.Division) bool {
		return d.Country == country && strings.Contains(strings.ToLower(d.Name), needle)
	}, overture.MaxSearchResults), nil
}
