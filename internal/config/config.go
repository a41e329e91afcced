// Пакет config — загрузка и валидация конфигурации Document Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version — версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые бэкенды хранилища содержимого.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config содержит все параметры конфигурации Document Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8030-8039)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке exp/nbf
	JWTLeeway time.Duration
	// Claim с ролью пользователя (ADMIN, MANAGER, USER, VIEWER)
	JWTRoleClaim string
	// Claim с идентификатором отдела
	JWTDepartmentClaim string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Путь к CA-сертификату для JWKS (опционально)
	JWKSCACertPath string

	// --- Хранилище содержимого ---

	// Бэкенд: fs (локальный диск) или s3 (S3/MinIO)
	BlobBackend string
	// Каталог для бэкенда fs
	BlobDir string
	// Секрет HMAC для подписанных ссылок бэкенда fs
	BlobURLSecret string
	// Внешний базовый URL модуля (для подписанных ссылок бэкенда fs)
	PublicURL string

	// S3 endpoint (например, http://minio:9000)
	S3Endpoint string
	// S3 регион
	S3Region string
	// S3 bucket
	S3Bucket string
	// S3 access key
	S3AccessKey string
	// S3 secret key
	S3SecretKey string
	// Path-style адресация (обязательна для MinIO)
	S3UsePathStyle bool

	// Время жизни подписанной ссылки на скачивание
	PresignTTL time.Duration
	// Размер LRU-кэша подписанных ссылок
	URLCacheSize int

	// --- Уведомления ---

	// Ёмкость очереди исходящих уведомлений
	NotifyBuffer int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo // линейный разбор переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("DM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("DM_PORT: %w", err)
	}
	if cfg.Port < 8030 || cfg.Port > 8039 {
		return nil, fmt.Errorf("DM_PORT: значение %d вне допустимого диапазона 8030-8039", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("DM_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("DM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("DM_HTTP_WRITE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("DM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("DM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("DM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// DM_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 100 МБ)
	maxUpload, err := getEnvInt("DM_MAX_UPLOAD_SIZE", 100*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("DM_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return nil, fmt.Errorf("DM_MAX_UPLOAD_SIZE: значение должно быть положительным, получено %d", maxUpload)
	}
	cfg.MaxUploadSize = int64(maxUpload)

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("DM_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("DM_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("DM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("DM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("DM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("DM_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("DM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("DM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("DM_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("DM_JWT_ISSUER", "")
	if cfg.JWTLeeway, err = getEnvDuration("DM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DM_JWT_LEEWAY: %w", err)
	}
	cfg.JWTRoleClaim = getEnvDefault("DM_JWT_ROLE_CLAIM", "role")
	cfg.JWTDepartmentClaim = getEnvDefault("DM_JWT_DEPARTMENT_CLAIM", "department_id")
	if cfg.JWKSClientTimeout, err = getEnvDuration("DM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("DM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("DM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("DM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSCACertPath = getEnvDefault("DM_JWKS_CA_CERT_PATH", "")

	// --- Хранилище содержимого ---

	cfg.BlobBackend = getEnvDefault("DM_BLOB_BACKEND", BlobBackendFS)
	switch cfg.BlobBackend {
	case BlobBackendFS:
		cfg.BlobDir = getEnvDefault("DM_BLOB_DIR", "/data/documents")
		if cfg.BlobURLSecret, err = getEnvRequired("DM_BLOB_URL_SECRET"); err != nil {
			return nil, err
		}
		if len(cfg.BlobURLSecret) < 32 {
			return nil, fmt.Errorf("DM_BLOB_URL_SECRET: длина секрета должна быть не меньше 32 символов")
		}
	case BlobBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("DM_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if _, parseErr := url.ParseRequestURI(cfg.S3Endpoint); parseErr != nil {
			return nil, fmt.Errorf("DM_S3_ENDPOINT: некорректный URL %q", cfg.S3Endpoint)
		}
		if cfg.S3Bucket, err = getEnvRequired("DM_S3_BUCKET"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("DM_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("DM_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
		cfg.S3Region = getEnvDefault("DM_S3_REGION", "us-east-1")
		if cfg.S3UsePathStyle, err = getEnvBool("DM_S3_USE_PATH_STYLE", true); err != nil {
			return nil, fmt.Errorf("DM_S3_USE_PATH_STYLE: %w", err)
		}
	default:
		return nil, fmt.Errorf("DM_BLOB_BACKEND: недопустимое значение %q, допустимые: fs, s3", cfg.BlobBackend)
	}

	cfg.PublicURL = strings.TrimRight(
		getEnvDefault("DM_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	if cfg.PresignTTL, err = getEnvDuration("DM_PRESIGN_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("DM_PRESIGN_TTL: %w", err)
	}
	if cfg.PresignTTL < time.Minute || cfg.PresignTTL > 7*24*time.Hour {
		return nil, fmt.Errorf("DM_PRESIGN_TTL: значение %s вне допустимого диапазона 1m-168h", cfg.PresignTTL)
	}

	if cfg.URLCacheSize, err = getEnvInt("DM_URL_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("DM_URL_CACHE_SIZE: %w", err)
	}
	if cfg.URLCacheSize < 1 {
		return nil, fmt.Errorf("DM_URL_CACHE_SIZE: значение должно быть положительным, получено %d", cfg.URLCacheSize)
	}

	// --- Уведомления ---

	if cfg.NotifyBuffer, err = getEnvInt("DM_NOTIFY_BUFFER", 256); err != nil {
		return nil, fmt.Errorf("DM_NOTIFY_BUFFER: %w", err)
	}
	if cfg.NotifyBuffer < 1 || cfg.NotifyBuffer > 65536 {
		return nil, fmt.Errorf("DM_NOTIFY_BUFFER: значение %d вне допустимого диапазона 1-65536", cfg.NotifyBuffer)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DM_DEPHEALTH_GROUP", "artstore")
	if cfg.DephealthCheckInterval, err = getEnvDuration("DM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("DM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("DM_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("DM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля.
// Используется для лейблов topologymetrics, не для подключения.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
