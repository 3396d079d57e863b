// =============================================================================
// 📦 DocPilot 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DOCPILOT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
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

// Config 是 DocPilot 的完整配置结构
type Config struct {
	// Cache 缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Vector 向量存储配置
	Vector VectorConfig `yaml:"vector" env:"VECTOR"`

	// Embedding 嵌入服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Chunking 文档切分配置
	Chunking ChunkingConfig `yaml:"chunking" env:"CHUNKING"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Planner 查询规划配置
	Planner PlannerConfig `yaml:"planner" env:"PLANNER"`

	// SemanticCache 语义缓存配置
	SemanticCache SemanticCacheConfig `yaml:"semantic_cache" env:"SEMANTIC_CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// CacheConfig 缓存层配置
type CacheConfig struct {
	// 是否启用远程 Redis
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 单次操作超时
	OpTimeout time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT"`
	// 响应缓存 TTL
	ResponseTTL time.Duration `yaml:"response_ttl" env:"RESPONSE_TTL"`
	// 校验缓存 TTL
	ValidationTTL time.Duration `yaml:"validation_ttl" env:"VALIDATION_TTL"`
	// 重排缓存 TTL
	RerankTTL time.Duration `yaml:"rerank_ttl" env:"RERANK_TTL"`
	// 查询改写缓存 TTL
	TransformTTL time.Duration `yaml:"transform_ttl" env:"TRANSFORM_TTL"`
	// 嵌入缓存 TTL
	EmbeddingTTL time.Duration `yaml:"embedding_ttl" env:"EMBEDDING_TTL"`
	// 进程内回退缓存容量
	FallbackSize int `yaml:"fallback_size" env:"FALLBACK_SIZE"`
	// 进程内回退缓存 TTL
	FallbackTTL time.Duration `yaml:"fallback_ttl" env:"FALLBACK_TTL"`
}

// VectorConfig 向量存储配置
type VectorConfig struct {
	// 后端类型: qdrant, local
	Backend string `yaml:"backend" env:"BACKEND"`
	// Qdrant REST 地址
	QdrantURL string `yaml:"qdrant_url" env:"QDRANT_URL"`
	// API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 本地快照文件路径（local 后端 / qdrant 降级时使用）
	LocalPath string `yaml:"local_path" env:"LOCAL_PATH"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 基础 URL（可选，覆盖默认端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 向量维度
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// 批量请求大小
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ChunkingConfig 文档切分配置
type ChunkingConfig struct {
	// 目标块大小（字符）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 相邻块重叠（字符）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 单个章节最大大小，超出后拆分
	SectionMaxSize int `yaml:"section_max_size" env:"SECTION_MAX_SIZE"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 默认返回文档数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 相似度阈值
	ScoreThreshold float64 `yaml:"score_threshold" env:"SCORE_THRESHOLD"`
	// 放宽阈值（兜底搜索使用）
	RelaxedThreshold float64 `yaml:"relaxed_threshold" env:"RELAXED_THRESHOLD"`
	// 迭代检索最大轮数
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// 触发查询分解的最小词数
	DecomposeMinWords int `yaml:"decompose_min_words" env:"DECOMPOSE_MIN_WORDS"`
	// 分解出的子查询上限
	MaxSubQueries int `yaml:"max_sub_queries" env:"MAX_SUB_QUERIES"`
}

// PlannerConfig 查询规划配置
type PlannerConfig struct {
	// 领域通用词（命中后跳过检索，直接由模型回答）
	GenericMarkers []string `yaml:"generic_markers" env:"GENERIC_MARKERS"`
	// 产品专有词（命中后走完整检索管线）
	ProductMarkers []string `yaml:"product_markers" env:"PRODUCT_MARKERS"`
	// 事实速查表：规范化问题子串 -> 固定答案（仅文件配置）
	Facts map[string]string `yaml:"facts" env:"-"`
}

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 相似度命中阈值
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
	// 工作集容量上限
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 条目 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
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
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DOCPILOT",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// Validate 检查配置的基本一致性
func Validate(cfg *Config) error {
	if cfg.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", cfg.Chunking.ChunkSize)
	}
	if cfg.Chunking.ChunkOverlap < 0 || cfg.Chunking.ChunkOverlap >= cfg.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, chunk_size), got %d", cfg.Chunking.ChunkOverlap)
	}
	if cfg.Retrieval.ScoreThreshold < 0 || cfg.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("retrieval.score_threshold must be in [0, 1], got %f", cfg.Retrieval.ScoreThreshold)
	}
	if cfg.Retrieval.RelaxedThreshold > cfg.Retrieval.ScoreThreshold {
		return fmt.Errorf("retrieval.relaxed_threshold must not exceed score_threshold")
	}
	if cfg.SemanticCache.Threshold < 0 || cfg.SemanticCache.Threshold > 1 {
		return fmt.Errorf("semantic_cache.threshold must be in [0, 1], got %f", cfg.SemanticCache.Threshold)
	}
	switch cfg.Vector.Backend {
	case "qdrant", "local":
	default:
		return fmt.Errorf("vector.backend must be qdrant or local, got %q", cfg.Vector.Backend)
	}
	return nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator(Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
