// 包 geoip：由调用方 IP 推断国家代码，用于浏览流程中预选国家
//
// 背景：MaxMind 兼容的 mmdb 文件是可选输入；未配置时所有查询返回 ErrDisabled，调用方退回手动选择。
// 约束：只读取国家级字段；私网与回环地址不查询。
package geoip

import (
	"net"
	"net/http"
	"strings"

	"overture-lists/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/oschwald/geoip2-golang"
)

var (
	ErrDisabled  = errors.New("geoip database not configured")
	ErrInvalidIP = errors.New("invalid ip address")
	ErrNoCountry = errors.New("no country for ip")
	ErrPrivateIP = errors.New("private or loopback address")
)

type Resolver struct {
	db *geoip2.Reader
}

// Open：path 为空时返回禁用状态的 Resolver（非错误）
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return &Resolver{}, nil
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open geoip db %s", path)
	}
	logger.L().Info("geoip_opened", "path", path, "type", db.Metadata().DatabaseType)
	return &Resolver{db: db}, nil
}

func (r *Resolver) Enabled() bool { return r != nil && r.db != nil }

// CountryCode：返回大写 ISO 3166-1 alpha-2
func (r *Resolver) CountryCode(raw string) (string, error) {
	if !r.Enabled() {
		return "", ErrDisabled
	}
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "", errors.Wrapf(ErrInvalidIP, "%q", raw)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return "", errors.Wrapf(ErrPrivateIP, "%s", ip)
	}
	rec, err := r.db.Country(ip)
	if err != nil {
		return "", errors.Wrapf(err, "lookup %s", ip)
	}
	cc := rec.Country.IsoCode
	if cc == "" {
		cc = rec.RegisteredCountry.IsoCode
	}
	if cc == "" {
		return "", errors.Wrapf(ErrNoCountry, "%s", ip)
	}
	return strings.ToUpper(cc), nil
}

func (r *Resolver) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.db.Close()
}

// ClientIP：优先 X-Forwarded-For 的第一个地址，其次 X-Real-IP，最后 RemoteAddr
func ClientIP(req *http.Request) string {
	if v := req.Header.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if s := strings.TrimSpace(first); s != "" {
			return s
		}
	}
	if v := strings.TrimSpace(req.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
