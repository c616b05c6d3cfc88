package service

import (
	"context"
	"encoding/json"
	"strings"

	"overture-lists/internal/overture"
)

// 数据集浏览：直接转发到数据源，只做错误归类

func (s *Service) Countries(ctx context.Context) ([]string, error) {
	out, err := s.src.Countries(ctx)
	return out, translate(err)
}

func (s *Service) Subtypes(ctx context.Context, country string) ([]string, error) {
	out, err := s.src.Subtypes(ctx, strings.ToUpper(country))
	return out, translate(err)
}

func (s *Service) Boundaries(ctx context.Context, f overture.Filter) ([]overture.Division, error) {
	if strings.TrimSpace(f.Country) == "" {
		return nil, newError(KindValidation, "country", "country is required")
	}
	f.Country = strings.ToUpper(f.Country)
	out, err := s.src.Boundaries(ctx, f)
	return out, translate(err)
}

func (s *Service) Children(ctx context.Context, parentSystemID string) ([]overture.Division, error) {
	out, err := s.src.Children(ctx, parentSystemID)
	return out, translate(err)
}

func (s *Service) CountryDivision(ctx context.Context, country string) (*overture.Division, error) {
	out, err := s.src.CountryDivision(ctx, strings.ToUpper(country))
	return out, translate(err)
}

func (s *Service) Search(ctx context.Context, country, term string) ([]overture.Division, error) {
	if strings.TrimSpace(country) == "" {
		return nil, newError(KindValidation, "country", "country is required")
	}
	out, err := s.src.Search(ctx, strings.ToUpper(country), term)
	return out, translate(err)
}

// Geometry：经本地缓存的几何（首次回源并回填）
func (s *Service) Geometry(ctx context.Context, systemID string) (json.RawMessage, error) {
	d, err := s.EnsureGeometry(ctx, systemID)
	if err != nil {
		return nil, err
	}
	return d.Geometry(), nil
}
