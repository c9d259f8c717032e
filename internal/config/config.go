// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig           `mapstructure:"server"`
	Database DatabaseConfig         `mapstructure:"database"`
	JWT      JWTConfig              `mapstructure:"jwt"`
	Log      LogConfig              `mapstructure:"log"`
	Kafka    KafkaConfig            `mapstructure:"kafka"`
	MinIO    MinIOConfig            `mapstructure:"minio"`
	Crypto   CryptoConfig           `mapstructure:"crypto"`
	Upload   UploadConfig           `mapstructure:"upload"`
	Studies  map[string]StudyConfig `mapstructure:"studies"`
}

// ServerConfig 存储运维 HTTP 服务相关的配置。
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	SchemaDir string `mapstructure:"schema_dir"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储运维接口鉴权使用的 JWT 配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	Workers     int    `mapstructure:"workers"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	UploadBucket     string `mapstructure:"upload_bucket"`
	AttachmentBucket string `mapstructure:"attachment_bucket"`
}

// CryptoConfig 存储上传包解密所需的主密钥。
type CryptoConfig struct {
	MasterSecret string `mapstructure:"master_secret"`
}

// UploadConfig 存储校验流水线的各项限制与开关。
type UploadConfig struct {
	InlineFieldWarnBytes  int64         `mapstructure:"inline_field_warn_bytes"`
	InlineFieldMaxBytes   int64         `mapstructure:"inline_field_max_bytes"`
	ParsedJSONWarnBytes   int64         `mapstructure:"parsed_json_warn_bytes"`
	ParsedJSONMaxBytes    int64         `mapstructure:"parsed_json_max_bytes"`
	DataFileMaxBytes      int64         `mapstructure:"data_file_max_bytes"`
	SurveyAnswerMaxBytes  int64         `mapstructure:"survey_answer_max_bytes"`
	MaxZipEntries         int           `mapstructure:"max_zip_entries"`
	MaxUnzippedBytes      int64         `mapstructure:"max_unzipped_bytes"`
	DedupeTTL             time.Duration `mapstructure:"dedupe_ttl"`
	PersistRawZip         bool          `mapstructure:"persist_raw_zip"`
	ShadowEnabled         bool          `mapstructure:"shadow_enabled"`
	ShadowCandidateFormat string        `mapstructure:"shadow_candidate_format"`
}

// StudyConfig 存储单个研究项目的校验配置。
type StudyConfig struct {
	// UploadValidationStrictness 取值 STRICT / REPORT / WARNING，优先级高于 StrictUploadValidationEnabled。
	UploadValidationStrictness    string         `mapstructure:"upload_validation_strictness"`
	StrictUploadValidationEnabled bool           `mapstructure:"strict_upload_validation_enabled"`
	DefaultSchemaRevisions        map[string]int `mapstructure:"default_schema_revisions"`
}

// setDefaults 为未在配置文件中出现的项设置默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.schema_dir", "schemas")
	v.SetDefault("kafka.group_id", "upload-validator-consumer")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("upload.inline_field_warn_bytes", 10*1024)
	v.SetDefault("upload.inline_field_max_bytes", 100*1024)
	v.SetDefault("upload.parsed_json_warn_bytes", 5*1024*1024)
	v.SetDefault("upload.parsed_json_max_bytes", 20*1024*1024)
	v.SetDefault("upload.data_file_max_bytes", 2*1024*1024)
	v.SetDefault("upload.survey_answer_max_bytes", 10*1024)
	v.SetDefault("upload.max_zip_entries", 100)
	v.SetDefault("upload.max_unzipped_bytes", 100*1024*1024)
	v.SetDefault("upload.dedupe_ttl", "720h")
}

// Load 从指定路径读取 YAML 配置，环境变量 UPLOAD_VALIDATOR_* 可覆盖同名配置项。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("upload_validator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
