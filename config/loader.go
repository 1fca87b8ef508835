// =============================================================================
// 📦 AgentDispatch 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTDISPATCH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 AgentDispatch 的完整配置结构
type Config struct {
	// Server 运维 HTTP 端点（metrics / health）
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Redis 连接配置，task_store.backend 为 redis 时使用
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置，task_store.backend 为 sql 时使用
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// TaskStore 任务记录存储
	TaskStore TaskStoreConfig `yaml:"task_store" env:"TASK_STORE"`

	// Matcher 能力匹配
	Matcher MatcherConfig `yaml:"matcher" env:"MATCHER"`

	// Balancer 负载均衡与熔断
	Balancer BalancerConfig `yaml:"balancer" env:"BALANCER"`

	// Workflow 工作流引擎
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口，承载 /metrics、/healthz、/readyz
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 任务记录过期时间，0 表示永不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite3
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 驱动下为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 空闲连接最大存活时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// 连接池健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// TaskStoreConfig 任务记录存储配置
type TaskStoreConfig struct {
	// 后端: memory, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// SQL 表名
	TableName string `yaml:"table_name" env:"TABLE_NAME"`
	// 启动时自动建表
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 熔断：连续失败次数
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures" env:"BREAKER_MAX_FAILURES"`
	// 熔断：打开状态持续时间
	BreakerTimeout time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
	// 熔断：关闭状态下清零失败计数的周期
	BreakerInterval time.Duration `yaml:"breaker_interval" env:"BREAKER_INTERVAL"`
}

// MatcherConfig 能力匹配配置
type MatcherConfig struct {
	// CanAgentHandleTask 要求的最低分
	MinScoreThreshold float64 `yaml:"min_score_threshold" env:"MIN_SCORE_THRESHOLD"`
}

// BalancerConfig 负载均衡配置
type BalancerConfig struct {
	// 默认策略: capability_based, performance_based, availability_based, round_robin, hybrid
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// 熔断冷却时间
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
	// 自动熔断的连续失败次数，0 表示关闭
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 每次分配保留的备选数
	MaxBackups int `yaml:"max_backups" env:"MAX_BACKUPS"`
	// 过载阈值
	OverloadThreshold float64 `yaml:"overload_threshold" env:"OVERLOAD_THRESHOLD"`
	// 低利用率阈值
	UnderutilizedThreshold float64 `yaml:"underutilized_threshold" env:"UNDERUTILIZED_THRESHOLD"`
	// 每个过载 Agent 最多迁出的任务数
	MaxMovesPerAgent int `yaml:"max_moves_per_agent" env:"MAX_MOVES_PER_AGENT"`
	// 批量分配并发度
	BatchParallelism int `yaml:"batch_parallelism" env:"BATCH_PARALLELISM"`
	// 告警日志上限
	MaxHealthAlerts int `yaml:"max_health_alerts" env:"MAX_HEALTH_ALERTS"`
}

// WorkflowConfig 工作流引擎配置
type WorkflowConfig struct {
	// 定义未指定时的并发窗口
	DefaultMaxConcurrentSteps int `yaml:"default_max_concurrent_steps" env:"DEFAULT_MAX_CONCURRENT_STEPS"`
	// 异步步骤 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// worker 队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 待处理工作流轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// Agent 健康检查的 cron 表达式
	HealthCheckSchedule string `yaml:"health_check_schedule" env:"HEALTH_CHECK_SCHEDULE"`
	// 已结束工作流的保留时间，0 表示不清理
	RetainFinished time.Duration `yaml:"retain_finished" env:"RETAIN_FINISHED"`
	// 工作流模板目录
	TemplateDir string `yaml:"template_dir" env:"TEMPLATE_DIR"`
	// Agent 名册文件
	RosterFile string `yaml:"roster_file" env:"ROSTER_FILE"`
	// 模板与名册变更的检查间隔，0 表示不监听
	WatchInterval time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`
	// 模拟执行器延迟，0 表示等待外部回调
	SimulatedDelay time.Duration `yaml:"simulated_delay" env:"SIMULATED_DELAY"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 按 默认值 → YAML → 环境变量 → 验证器 的顺序构造 Config
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 返回使用 AGENTDISPATCH 前缀的加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "AGENTDISPATCH"}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时只使用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix replaces the AGENTDISPATCH prefix of environment overrides.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加在最后执行的校验函数
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.mergeFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv walks the env-tagged fields of v. Nested structs extend the key,
// so Workflow.PollInterval reads PREFIX_WORKFLOW_POLL_INTERVAL.
func applyEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := os.LookupEnv(key)
		if !ok || raw == "" || !field.CanSet() {
			continue
		}
		if err := assign(field, raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// assign 解析字符串并写入字段；[]string 以逗号分隔
func assign(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch kind := field.Kind(); {
	case kind == reflect.String:
		field.SetString(raw)
	case kind >= reflect.Int && kind <= reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case kind >= reflect.Uint && kind <= reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case kind == reflect.Float32 || kind == reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case kind == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case kind == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		items := strings.Split(raw, ",")
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// MustLoad 加载指定文件，失败时 panic；用于示例与测试
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置，返回全部问题
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry sample_rate must be between 0 and 1"))
	}

	switch c.TaskStore.Backend {
	case "memory", "":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis addr is required for the redis task store"))
		}
	case "sql":
		if c.Database.DSN() == "" {
			errs = append(errs, fmt.Errorf("unsupported database driver: %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported task store backend: %q", c.TaskStore.Backend))
	}

	if c.Matcher.MinScoreThreshold < 0 || c.Matcher.MinScoreThreshold > 100 {
		errs = append(errs, errors.New("matcher min_score_threshold must be between 0 and 100"))
	}

	switch c.Balancer.Strategy {
	case "capability_based", "performance_based", "availability_based", "round_robin", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("unsupported balancer strategy: %q", c.Balancer.Strategy))
	}
	if c.Balancer.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("balancer breaker_cooldown must be positive"))
	}
	if c.Balancer.FailureThreshold < 0 {
		errs = append(errs, errors.New("balancer failure_threshold must not be negative"))
	}

	if c.Workflow.DefaultMaxConcurrentSteps <= 0 {
		errs = append(errs, errors.New("workflow default_max_concurrent_steps must be positive"))
	}
	if c.Workflow.Workers <= 0 {
		errs = append(errs, errors.New("workflow workers must be positive"))
	}
	if c.Workflow.PollInterval <= 0 {
		errs = append(errs, errors.New("workflow poll_interval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
