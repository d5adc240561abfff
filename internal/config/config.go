package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Session  SessionConfig
	Auth     AuthConfig
	Realtime RealtimeConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Store:    loadStoreConfig(),
		Session:  session,
		Auth:     AuthConfig{UsersFile: strings.TrimSpace(os.Getenv("USERS_FILE"))},
		Realtime: realtime,
		Log: LogConfig{
			Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
		},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// StoreConfig 描述告警文件的位置。
type StoreConfig struct {
	DataDir   string
	AlertFile string
}

func loadStoreConfig() StoreConfig {
	dataDir := getEnvOrDefault("DATA_DIR", "data")
	return StoreConfig{
		DataDir:   dataDir,
		AlertFile: getEnvOrDefault("ALERT_FILE", filepath.Join(dataDir, "alerts.json")),
	}
}

// SessionConfig 描述会话 cookie 相关配置。
type SessionConfig struct {
	Secret       string
	TTL          time.Duration
	CookieSecure bool
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	if ttl <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_TTL value %q: must be positive", os.Getenv("SESSION_TTL"))
	}

	secure, err := parseBoolEnv("SESSION_COOKIE_SECURE", false)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		Secret:       strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		TTL:          ttl,
		CookieSecure: secure,
	}, nil
}

// AuthConfig 描述凭证来源。UsersFile 为空时使用内置账号。
type AuthConfig struct {
	UsersFile string
}

// RealtimeConfig 描述实时推送通道配置。
type RealtimeConfig struct {
	RequireSession bool
	SendBuffer     int
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	requireSession, err := parseBoolEnv("REALTIME_REQUIRE_SESSION", false)
	if err != nil {
		return RealtimeConfig{}, err
	}

	buffer := 16
	if override, err := parseOptionalIntEnv("REALTIME_SEND_BUFFER"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			buffer = 1
		} else {
			buffer = *override
		}
	}

	return RealtimeConfig{RequireSession: requireSession, SendBuffer: buffer}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
