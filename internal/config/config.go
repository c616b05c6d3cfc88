// 包 config：集中读取环境变量，服务端与 CLI 共用；所有键均有内置默认值
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultDivisionPath：Overture 2024-12-18 发布的 division 数据集（公开桶，匿名读取）
const DefaultDivisionPath = "s3://overturemaps-us-west-2/release/2024-12-18.0/theme=divisions/type=division/*.parquet"

// Config：进程配置快照
type Config struct {
	APIBase string
	Addr    string

	DBPath string

	DivisionPath     string
	DivisionAreaPath string
	S3Region         string
	S3Anonymous      bool

	ClientsPath string
	GeoIPPath   string

	// QueryCache：memory | redis | off
	QueryCache     string
	QueryCacheSize int
	QueryCacheTTL  time.Duration

	LocateCacheSize int
	LocateCacheTTL  time.Duration

	RateLimitEnabled bool
	RateLimitQPS     int

	// TLS：默认关闭；开启且证书缺失时生成自签名证书
	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string
}

// LoadDotenv：按 .env → data/env/.env 顺序加载，已存在的环境变量不被覆盖
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：加载 dotenv 后读取环境变量
func Load() Config {
	LoadDotenv()
	return FromEnv()
}

// FromEnv：仅读取当前环境变量，不触碰 dotenv 文件（测试使用）
func FromEnv() Config {
	c := Config{
		APIBase:          str("API_BASE", "/api"),
		Addr:             str("ADDR", ":8080"),
		DBPath:           str("DB_PATH", filepath.Join("data", "app.db")),
		DivisionPath:     str("OVERTURE_DIVISION_PATH", str("OVERTURE_PARQUET_PATH", DefaultDivisionPath)),
		S3Region:         str("OVERTURE_S3_REGION", "us-west-2"),
		S3Anonymous:      boolean("OVERTURE_S3_ANONYMOUS", true),
		ClientsPath:      str("CRM_CLIENTS_PATH", filepath.Join("crm_data", "clients.json")),
		GeoIPPath:        os.Getenv("GEOIP_DB_PATH"),
		QueryCache:       strings.ToLower(str("QUERY_CACHE", "memory")),
		QueryCacheSize:   integer("QUERY_CACHE_SIZE", 1024),
		QueryCacheTTL:    time.Duration(integer("QUERY_CACHE_TTL_S", 3600)) * time.Second,
		LocateCacheSize:  integer("LOCATE_CACHE_SIZE", 4096),
		LocateCacheTTL:   time.Duration(integer("LOCATE_CACHE_TTL_S", 3600)) * time.Second,
		RateLimitEnabled: boolean("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:     integer("RATE_LIMIT_QPS", 200),
		TLSEnabled:       boolean("TLS_ENABLE", false),
		TLSCertPath:      str("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
		TLSKeyPath:       str("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
	}
	c.DivisionAreaPath = str("OVERTURE_DIVISION_AREA_PATH", AreaPathFor(c.DivisionPath))
	return c
}

// AreaPathFor：由 division 路径推导 division_area 路径（同一发布版本的相邻分区）
func AreaPathFor(divisionPath string) string {
	if strings.Contains(divisionPath, "type=division/") {
		return strings.Replace(divisionPath, "type=division/", "type=division_area/", 1)
	}
	return ""
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func integer(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
