package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configDir 由外部通过 SetConfigDir 指定，优先级最高
var configDir string

// envSearchDirs .env 文件搜索目录（仅 dev/test 使用）
var envSearchDirs = []string{
	".",
	"..",
}

// SetConfigDir 设置配置文件目录（用于 --config 命令行参数）
func SetConfigDir(dir string) {
	configDir = dir
}

// Load 加载配置
// 1. 加载 .env.{env}（敏感信息）
// 2. 根据 APP_ENV 加载 {env}.yaml
// 3. 环境变量覆盖
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	if yamlCfg.loadedFrom != "" {
		log.Printf("[config] Loaded %s", yamlCfg.loadedFrom)
	}
	return build(env, yamlCfg)
}

// build 合并 YAML 与环境变量得到最终配置
func build(env Environment, y *YAMLConfig) *Config {
	y.Database.Password = getEnv("DB_PASSWORD", y.Database.Password)
	y.Redis.Password = getEnv("REDIS_PASSWORD", y.Redis.Password)

	databaseURL := os.Getenv("DATABASE_URL")
	driver := detectDatabaseDriver(getEnv("DATABASE_DRIVER", y.Database.Driver), databaseURL)
	y.Database.Driver = driver
	if databaseURL == "" {
		databaseURL = buildDatabaseURL(y.Database, y.Database.Password)
	}

	redisURL := getEnv("REDIS_URL", buildRedisURL(y.Redis))

	endpoints := y.Etcd.Endpoints
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		endpoints = splitList(v)
	}

	cfg := &Config{
		Env:            env,
		APIPort:        getEnv("API_PORT", y.APIServer.Port),
		APIURL:         getEnv("API_URL", y.APIServer.URL),
		DatabaseDriver: driver,
		DatabaseURL:    databaseURL,
		DatabaseName:   getEnv("DATABASE_NAME", y.Database.Name),
		RedisURL:       redisURL,
		EtcdEndpoints:  endpoints,
		EtcdTimeout:    y.Etcd.DialTimeout,
		Events:         y.Events,
		Notifier:       y.Notifier,
		Log:            y.Log,
	}
	cfg.Events.Backend = strings.ToLower(getEnv("EVENTS_BACKEND", cfg.Events.Backend))
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:" + cfg.APIPort
	}
	cfg.applyDefaults()
	return cfg
}

// defaultYAML 代码默认值
func defaultYAML() *YAMLConfig {
	return &YAMLConfig{
		APIServer: APIServerConfig{Port: "8080"},
		Database:  DatabaseConfig{Path: "data/users-admin.db", Host: "localhost", Port: 5432, User: "users", Name: "users_admin", SSLMode: "disable"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Etcd:      EtcdConfig{Endpoints: []string{"localhost:2379"}, DialTimeout: 5 * time.Second},
		Events:    EventsConfig{Backend: EventsBackendLocal},
		Notifier:  NotifierConfig{QueueSize: 64, WriteTimeout: 10 * time.Second, PingInterval: 30 * time.Second},
		Log:       LogConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件（默认值 → {env}.yaml）
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := defaultYAML()

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths(env) {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Printf("[config] WARNING: failed to parse %s: %v", path, err)
			continue
		}
		cfg.loadedFrom = path
		break
	}

	return cfg
}

// effectiveConfigPaths 返回实际搜索路径
func effectiveConfigPaths(env Environment) []string {
	if configDir != "" {
		return []string{configDir}
	}
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return []string{dir}
	}
	if env == EnvProduction {
		return []string{"/etc/users-admin"}
	}
	return []string{"configs", "../configs", "../../configs"}
}

// loadEnvFiles 加载 .env.{env}
//
// 生产环境不搜索 .env 文件。godotenv.Load 不覆盖已有环境变量。
func loadEnvFiles(env Environment) {
	if env == EnvProduction {
		return
	}
	envFileName := fmt.Sprintf(".env.%s", string(env))
	for _, dir := range envSearchDirs {
		if err := godotenv.Load(filepath.Join(dir, envFileName)); err == nil {
			break
		}
	}
}

// applyDefaults 填充零值
func (c *Config) applyDefaults() {
	d := defaultYAML()
	if c.APIPort == "" {
		c.APIPort = d.APIServer.Port
	}
	if c.DatabaseName == "" {
		c.DatabaseName = d.Database.Name
	}
	if c.EtcdTimeout == 0 {
		c.EtcdTimeout = d.Etcd.DialTimeout
	}
	if c.Events.Backend == "" {
		c.Events.Backend = EventsBackendLocal
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = d.Notifier.QueueSize
	}
	if c.Notifier.WriteTimeout <= 0 {
		c.Notifier.WriteTimeout = d.Notifier.WriteTimeout
	}
	if c.Notifier.PingInterval <= 0 {
		c.Notifier.PingInterval = d.Notifier.PingInterval
	}
}

// Validate 校验配置组合是否可用
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "postgres", "mongodb":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.DatabaseDriver)
	}
	switch c.Events.Backend {
	case EventsBackendLocal, EventsBackendRedis:
	case EventsBackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("events backend etcd requires etcd endpoints")
		}
	default:
		return fmt.Errorf("unsupported events backend: %q", c.Events.Backend)
	}
	return nil
}
