package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Admin     AdminConfig
	Storage   StorageConfig
	Drive     DriveConfig
	Face      FaceConfig
	Cluster   ClusterConfig
	Match     MatchConfig
	Worker    WorkerConfig
	AutoSync  AutoSyncConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name        string
	Port        string
	Env         string
	FrontendURL string // Public frontend base URL for guest links
}

type DatabaseConfig struct {
	URL      string // Full DSN; overrides the discrete fields when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type AdminConfig struct {
	DashboardKey string // System admin key for logs/job admin endpoints
	Email        string // Super admin seed account
	Password     string
}

type StorageConfig struct {
	Root                 string // Local storage root (selfies/, thumbnails/)
	ThumbnailMaxSize     int    // Longest side of generated thumbnails
	SelfieRetentionHours int    // Guest selfies older than this are deleted
}

type DriveConfig struct {
	APIKey        string // API key mode (public folders)
	ClientID      string // OAuth mode (private folders), optional
	ClientSecret  string
	RefreshToken  string
	MaxSyncImages int // 0 = unlimited
}

type FaceConfig struct {
	APIBaseURL        string // Face inference service base URL
	ModelCacheDir     string // Where detector/recognizer model files are materialized
	DetSize           int
	DetScoreThreshold float64
	MinFaceRatio      float64
	MinSharpness      float64
	MaxFacesPerImage  int
	ResizeMaxSide     int
	EnableFallback    bool // Deterministic fallback embedding when inference is down
}

type ClusterConfig struct {
	Eps        float64 // DBSCAN cosine distance epsilon
	MinSamples int
}

type MatchConfig struct {
	ThresholdPercent      float64
	TopMargin             float64
	AutoRelaxDrop         float64
	AutoRelaxMinThreshold float64
}

type WorkerConfig struct {
	PollIntervalSeconds int
	IdleSleepSeconds    int
	Concurrency         int
	MaxAttempts         int // Requeue budget for jobs orphaned by a crashed worker
}

type AutoSyncConfig struct {
	Enabled         bool
	IntervalMinutes int
	BatchSize       int
}

type RateLimitConfig struct {
	Enabled           bool
	MaxRequests       int
	WindowSeconds     int
	AuthMaxRequests   int
	AuthWindowSeconds int
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists (optional for production)
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	config := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "GrabPic"),
			Port:        getEnv("APP_PORT", "8000"),
			Env:         getEnv("APP_ENV", "development"),
			FrontendURL: getEnv("PUBLIC_FRONTEND_URL", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "grabpic"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
		},
		Admin: AdminConfig{
			DashboardKey: getEnv("ADMIN_DASHBOARD_KEY", ""),
			Email:        getEnv("ADMIN_EMAIL", ""),
			Password:     getEnv("ADMIN_PASSWORD", ""),
		},
		Storage: StorageConfig{
			Root:                 getEnv("STORAGE_ROOT", "storage"),
			ThumbnailMaxSize:     getEnvInt("THUMBNAIL_MAX_SIZE", 1200),
			SelfieRetentionHours: getEnvInt("SELFIE_RETENTION_HOURS", 24),
		},
		Drive: DriveConfig{
			APIKey:        getEnv("GOOGLE_DRIVE_API_KEY", ""),
			ClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken:  getEnv("GOOGLE_DRIVE_REFRESH_TOKEN", ""),
			MaxSyncImages: getEnvInt("MAX_SYNC_IMAGES", 5000),
		},
		Face: FaceConfig{
			APIBaseURL:        getEnv("FACE_API_URL", "http://localhost:5000"),
			ModelCacheDir:     expandHome(getEnv("FACE_MODEL_CACHE_DIR", "~/.cache/drive-face-models")),
			DetSize:           getEnvInt("FACE_DET_SIZE", 640),
			DetScoreThreshold: getEnvFloat("FACE_DET_SCORE_THRESHOLD", 0.78),
			MinFaceRatio:      getEnvFloat("FACE_MIN_FACE_RATIO", 0.0014),
			MinSharpness:      getEnvFloat("FACE_MIN_SHARPNESS", 10.0),
			MaxFacesPerImage:  getEnvInt("FACE_MAX_FACES_PER_IMAGE", 26),
			ResizeMaxSide:     getEnvInt("FACE_RESIZE_MAX_SIDE", 2200),
			EnableFallback:    getEnvBool("ENABLE_ML_FALLBACK", true),
		},
		Cluster: ClusterConfig{
			Eps:        getEnvFloat("CLUSTER_EPS", 0.32),
			MinSamples: getEnvInt("CLUSTER_MIN_SAMPLES", 2),
		},
		Match: MatchConfig{
			ThresholdPercent:      getEnvFloat("FACE_SIMILARITY_THRESHOLD_PERCENT", 90),
			TopMargin:             getEnvFloat("FACE_TOP_MARGIN", 8),
			AutoRelaxDrop:         getEnvFloat("FACE_AUTO_RELAX_DROP", 8),
			AutoRelaxMinThreshold: getEnvFloat("FACE_AUTO_RELAX_MIN_THRESHOLD", 78),
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: getEnvInt("JOB_POLL_INTERVAL_SECONDS", 2),
			IdleSleepSeconds:    getEnvInt("JOB_IDLE_SLEEP_SECONDS", 1),
			Concurrency:         getEnvInt("WORKER_CONCURRENCY", 2),
			MaxAttempts:         getEnvInt("JOB_MAX_ATTEMPTS", 3),
		},
		AutoSync: AutoSyncConfig{
			Enabled:         getEnvBool("AUTO_SYNC_ENABLED", true),
			IntervalMinutes: getEnvInt("AUTO_SYNC_INTERVAL_MINUTES", 5),
			BatchSize:       getEnvInt("AUTO_SYNC_BATCH_SIZE", 4),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			MaxRequests:       getEnvInt("RATE_LIMIT_MAX_REQUESTS", 120),
			WindowSeconds:     getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			AuthMaxRequests:   getEnvInt("RATE_LIMIT_AUTH_MAX_REQUESTS", 10),
			AuthWindowSeconds: getEnvInt("RATE_LIMIT_AUTH_WINDOW_SECONDS", 60),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
