package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Models      ModelsConfig
	Recognition RecognitionConfig
	Camera      CameraConfig
	Cache       CacheConfig
	Database    DatabaseConfig
	MariaDB     MariaDBConfig
	Roster      RosterConfig
	Web         WebConfig
	Log         LogConfig
}

type ModelsConfig struct {
	URL          string     // base URL (or local directory) the model assets are fetched from
	Dir          string     // local directory the assets are stored in
	Backend      string     // "dlib" (local go-face) or "remote" (embedding service)
	Files        ModelFiles // asset file names, one per inference capability
	CNN          bool       // use the CNN face detector instead of HOG (slower, more accurate)
	EmbeddingURL string     // embedding service URL for the remote backend
}

// ModelFiles names the three assets needed for recognition.
type ModelFiles struct {
	Detector    string `yaml:"detector"`
	Landmarks   string `yaml:"landmarks"`
	Recognition string `yaml:"recognition"`
}

// All returns the asset names in load order.
func (f ModelFiles) All() []string {
	return []string{f.Detector, f.Landmarks, f.Recognition}
}

type RecognitionConfig struct {
	Tolerance         float64
	DetectionInterval time.Duration
	RenderInterval    time.Duration
	MaxImageSize      int
	DisplayWidth      int
	DisplayHeight     int
	AutoMark          bool // mark matched members present for the selected event automatically
}

type CameraConfig struct {
	FrontDevice string // V4L2 device used for the "user" facing mode
	BackDevice  string // V4L2 device used for the "environment" facing mode
	FramesDir   string // replay JPEG frames from this directory instead of a device
}

type CacheConfig struct {
	Path     string // SQLite file; empty keeps the cache in memory
	Disabled bool
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MariaDBConfig struct {
	DSN string // read-only roster source (e.g., attendance:secret@tcp(mariadb:3306)/roster)
}

type RosterConfig struct {
	File string // YAML roster used when no database is configured
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type defaults struct {
	Models struct {
		URL     string     `yaml:"url"`
		Dir     string     `yaml:"dir"`
		Backend string     `yaml:"backend"`
		Files   ModelFiles `yaml:"files"`
	} `yaml:"models"`
	Recognition struct {
		Tolerance         float64 `yaml:"tolerance"`
		DetectionInterval string  `yaml:"detection_interval"`
		RenderInterval    string  `yaml:"render_interval"`
		MaxImageSize      int     `yaml:"max_image_size"`
		DisplayWidth      int     `yaml:"display_width"`
		DisplayHeight     int     `yaml:"display_height"`
	} `yaml:"recognition"`
	Camera struct {
		FrontDevice string `yaml:"front_device"`
		BackDevice  string `yaml:"back_device"`
	} `yaml:"camera"`
	Cache struct {
		Path string `yaml:"path"`
	} `yaml:"cache"`
}

// envString returns the environment variable or the default if it is unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("500ms") or bare integers as milliseconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}

// envBool understands the usual spellings; anything else keeps the default.
func envBool(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func Load() *Config {
	var def defaults
	if err := yaml.Unmarshal(defaultsYAML, &def); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Models: ModelsConfig{
			URL:     envString("MODELS_URL", def.Models.URL),
			Dir:     envString("MODELS_DIR", def.Models.Dir),
			Backend: envString("FACE_BACKEND", def.Models.Backend),
			Files: ModelFiles{
				Detector:    envString("MODELS_DETECTOR_FILE", def.Models.Files.Detector),
				Landmarks:   envString("MODELS_LANDMARKS_FILE", def.Models.Files.Landmarks),
				Recognition: envString("MODELS_RECOGNITION_FILE", def.Models.Files.Recognition),
			},
			CNN:          envBool("FACE_DETECT_CNN", false),
			EmbeddingURL: os.Getenv("EMBEDDING_URL"),
		},
		Recognition: RecognitionConfig{
			Tolerance:         envFloat("FACE_MATCH_TOLERANCE", def.Recognition.Tolerance),
			DetectionInterval: envDuration("FACE_DETECTION_INTERVAL", parseDuration(def.Recognition.DetectionInterval, 500*time.Millisecond)),
			RenderInterval:    envDuration("FACE_RENDER_INTERVAL", parseDuration(def.Recognition.RenderInterval, 16*time.Millisecond)),
			MaxImageSize:      envInt("FACE_MAX_IMAGE_SIZE", def.Recognition.MaxImageSize),
			DisplayWidth:      envInt("FACE_DISPLAY_WIDTH", def.Recognition.DisplayWidth),
			DisplayHeight:     envInt("FACE_DISPLAY_HEIGHT", def.Recognition.DisplayHeight),
			AutoMark:          envBool("ATTENDANCE_AUTO_MARK", true),
		},
		Camera: CameraConfig{
			FrontDevice: envString("CAMERA_FRONT_DEVICE", def.Camera.FrontDevice),
			BackDevice:  envString("CAMERA_BACK_DEVICE", def.Camera.BackDevice),
			FramesDir:   os.Getenv("CAMERA_FRAMES_DIR"),
		},
		Cache: CacheConfig{
			Path:     envString("FACE_CACHE_PATH", def.Cache.Path),
			Disabled: envBool("FACE_CACHE_DISABLED", false),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MariaDB: MariaDBConfig{
			DSN: os.Getenv("MARIADB_DSN"),
		},
		Roster: RosterConfig{
			File: os.Getenv("ROSTER_FILE"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}
