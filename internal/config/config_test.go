package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"DM_DB_HOST":         "localhost",
		"DM_DB_NAME":         "documents",
		"DM_DB_USER":         "documents",
		"DM_DB_PASSWORD":     "secret",
		"DM_JWT_JWKS_URL":    "https://idp.kryukov.lan/certs",
		"DM_BLOB_URL_SECRET": strings.Repeat("s", 32),
	}
}

// s3Envs возвращает набор переменных для бэкенда s3.
func s3Envs() map[string]string {
	envs := minimalEnvs()
	delete(envs, "DM_BLOB_URL_SECRET")
	envs["DM_BLOB_BACKEND"] = "s3"
	envs["DM_S3_ENDPOINT"] = "http://minio:9000"
	envs["DM_S3_BUCKET"] = "documents"
	envs["DM_S3_ACCESS_KEY"] = "minio"
	envs["DM_S3_SECRET_KEY"] = "minio-secret"
	return envs
}

// resetEnvs очищает переменные, которые могли остаться от окружения.
func resetEnvs() {
	for k := range s3Envs() {
		os.Unsetenv(k)
	}
	os.Unsetenv("DM_BLOB_URL_SECRET")
}

func TestLoad_MinimalConfig(t *testing.T) {
	resetEnvs()
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8030 {
		t.Errorf("Port = %d, ожидается 8030", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидается disable", cfg.DBSSLMode)
	}
	if cfg.BlobBackend != BlobBackendFS {
		t.Errorf("BlobBackend = %q, ожидается fs", cfg.BlobBackend)
	}
	if cfg.BlobDir != "/data/documents" {
		t.Errorf("BlobDir = %q, ожидается /data/documents", cfg.BlobDir)
	}
	if cfg.PublicURL != "http://localhost:8030" {
		t.Errorf("PublicURL = %q, ожидается http://localhost:8030", cfg.PublicURL)
	}
	if cfg.JWTRoleClaim != "role" {
		t.Errorf("JWTRoleClaim = %q, ожидается role", cfg.JWTRoleClaim)
	}
	if cfg.JWTDepartmentClaim != "department_id" {
		t.Errorf("JWTDepartmentClaim = %q, ожидается department_id", cfg.JWTDepartmentClaim)
	}
	if cfg.PresignTTL != 15*time.Minute {
		t.Errorf("PresignTTL = %v, ожидается 15m", cfg.PresignTTL)
	}
	if cfg.URLCacheSize != 1024 {
		t.Errorf("URLCacheSize = %d, ожидается 1024", cfg.URLCacheSize)
	}
	if cfg.NotifyBuffer != 256 {
		t.Errorf("NotifyBuffer = %d, ожидается 256", cfg.NotifyBuffer)
	}
	if cfg.MaxUploadSize != 100*1024*1024 {
		t.Errorf("MaxUploadSize = %d, ожидается 100 МБ", cfg.MaxUploadSize)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	resetEnvs()
	envs := minimalEnvs()
	envs["DM_PORT"] = "8035"
	envs["DM_LOG_LEVEL"] = "debug"
	envs["DM_LOG_FORMAT"] = "text"
	envs["DM_DB_SSL_MODE"] = "require"
	envs["DM_PUBLIC_URL"] = "https://docs.kryukov.lan/"
	envs["DM_JWT_ROLE_CLAIM"] = "app_role"
	envs["DM_PRESIGN_TTL"] = "1h"
	envs["DM_NOTIFY_BUFFER"] = "16"
	envs["DM_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8035 {
		t.Errorf("Port = %d, ожидается 8035", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode = %q, ожидается require", cfg.DBSSLMode)
	}
	if cfg.PublicURL != "https://docs.kryukov.lan" {
		t.Errorf("PublicURL = %q, ожидается без trailing slash", cfg.PublicURL)
	}
	if cfg.JWTRoleClaim != "app_role" {
		t.Errorf("JWTRoleClaim = %q, ожидается app_role", cfg.JWTRoleClaim)
	}
	if cfg.PresignTTL != time.Hour {
		t.Errorf("PresignTTL = %v, ожидается 1h", cfg.PresignTTL)
	}
	if cfg.NotifyBuffer != 16 {
		t.Errorf("NotifyBuffer = %d, ожидается 16", cfg.NotifyBuffer)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_S3Backend(t *testing.T) {
	resetEnvs()
	setEnvs(t, s3Envs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.BlobBackend != BlobBackendS3 {
		t.Errorf("BlobBackend = %q, ожидается s3", cfg.BlobBackend)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, ожидается us-east-1", cfg.S3Region)
	}
	if !cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle = false, ожидается true по умолчанию")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"DM_DB_HOST", "DM_DB_NAME", "DM_DB_USER", "DM_DB_PASSWORD",
		"DM_JWT_JWKS_URL", "DM_BLOB_URL_SECRET",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			resetEnvs()
			envs := minimalEnvs()
			delete(envs, missing)
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_MissingS3Required(t *testing.T) {
	requiredVars := []string{
		"DM_S3_ENDPOINT", "DM_S3_BUCKET", "DM_S3_ACCESS_KEY", "DM_S3_SECRET_KEY",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			resetEnvs()
			envs := s3Envs()
			delete(envs, missing)
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт ниже диапазона", "DM_PORT", "8029"},
		{"порт выше диапазона", "DM_PORT", "8040"},
		{"порт не число", "DM_PORT", "abc"},
		{"уровень логирования", "DM_LOG_LEVEL", "verbose"},
		{"формат логов", "DM_LOG_FORMAT", "xml"},
		{"режим SSL", "DM_DB_SSL_MODE", "prefer"},
		{"длительность", "DM_JWT_LEEWAY", "abc"},
		{"бэкенд", "DM_BLOB_BACKEND", "ftp"},
		{"короткий секрет", "DM_BLOB_URL_SECRET", "short"},
		{"TTL слишком мал", "DM_PRESIGN_TTL", "10s"},
		{"размер кэша", "DM_URL_CACHE_SIZE", "0"},
		{"очередь уведомлений", "DM_NOTIFY_BUFFER", "0"},
		{"размер загрузки", "DM_MAX_UPLOAD_SIZE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEnvs()
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_InvalidS3Endpoint(t *testing.T) {
	resetEnvs()
	envs := s3Envs()
	envs["DM_S3_ENDPOINT"] = "minio:9000 bad"
	setEnvs(t, envs)

	if _, err := Load(); err == nil {
		t.Error("Load() не вернул ошибку при некорректном DM_S3_ENDPOINT")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5432,
		DBName:     "documents",
		DBUser:     "user",
		DBPassword: "pass",
		DBSSLMode:  "disable",
	}
	expected := "host=db.example.com port=5432 dbname=documents user=user password=pass sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5433,
		DBName:     "documents",
		DBUser:     "user",
		DBPassword: "pass",
		DBSSLMode:  "require",
	}
	expected := "postgres://user@db.example.com:5433/documents?sslmode=require"
	got := cfg.DatabaseURL()
	if got != expected {
		t.Errorf("DatabaseURL() = %q, ожидается %q", got, expected)
	}
	if strings.Contains(got, "pass") {
		t.Error("DatabaseURL() не должен содержать пароль")
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: format,
			}
			if logger := SetupLogger(cfg); logger == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}
