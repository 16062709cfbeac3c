package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Tag modes. They mirror the scanner's write behavior: scan only, write the
// standard ReplayGain tag set, write the extended set (reference loudness and
// loudness ranges), or delete all ReplayGain tags without scanning.
const (
	TagModeSkip   = "skip"
	TagModeWrite  = "write"
	TagModeExtra  = "extra"
	TagModeDelete = "delete"
)

// SupportedExtensions lists every audio container the scanner will pick up
// when walking a library directory.
var SupportedExtensions = []string{
	".mp3", ".flac", ".ogg", ".oga", ".opus", ".mov", ".mp4", ".m4a",
	".alac", ".aac", ".3gp", ".3g2", ".mj2", ".asf", ".wma", ".wav",
	".wv", ".aif", ".aiff", ".ape",
}

// Config stores the application configuration. Values come from the
// environment (optionally via a .env file); command-line flags override them.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	Threads         int     // 0 = autodetect
	PreGain         float64 // dB, clamped to +/-32
	MaxTruePeak     float64 // dBTP ceiling for clipping prevention
	PreventClipping bool
	AlbumMode       bool
	TagMode         string
	UnitLU          bool // report LU instead of dB
	Recursive       bool
	SkipTagged      bool
	LowercaseTags   bool
	StripTags       bool
	ID3v2Version    int
	Extensions      []string
	CSVPath         string
	TabOutput       bool
	Verbosity       int
	LogLevel        string
	LogFile         string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if fv, err := strconv.ParseFloat(value, 64); err == nil {
			return fv
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if bv, err := strconv.ParseBool(value); err == nil {
			return bv
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() does not override variables already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables and defaults")
	}

	return &Config{
		FFmpegPath:      getEnv("GAINSCAN_FFMPEG", "ffmpeg"),
		FFprobePath:     getEnv("GAINSCAN_FFPROBE", "ffprobe"),
		Threads:         getEnvInt("GAINSCAN_THREADS", 0),
		PreGain:         getEnvFloat("GAINSCAN_PREGAIN", 0),
		MaxTruePeak:     getEnvFloat("GAINSCAN_MAX_TRUE_PEAK", -1.0),
		PreventClipping: getEnvBool("GAINSCAN_PREVENT_CLIPPING", true),
		AlbumMode:       getEnvBool("GAINSCAN_ALBUM", false),
		TagMode:         getEnv("GAINSCAN_TAG_MODE", TagModeSkip),
		Recursive:       getEnvBool("GAINSCAN_RECURSIVE", false),
		SkipTagged:      getEnvBool("GAINSCAN_SKIP_TAGGED", false),
		ID3v2Version:    getEnvInt("GAINSCAN_ID3V2_VERSION", 4),
		Extensions:      SupportedExtensions,
		Verbosity:       getEnvInt("GAINSCAN_VERBOSITY", 1),
		LogLevel:        getEnv("GAINSCAN_LOG_LEVEL", "info"),
		LogFile:         getEnv("GAINSCAN_LOG_FILE", ""),
	}
}

// Clamp bounds the tunables the same way the scanner's gain math expects:
// pre-gain and the true-peak ceiling stay inside +/-32 dB, the ID3v2 version
// is 3 or 4, and the tag mode falls back to scan-only when unrecognized.
func (c *Config) Clamp() {
	if c.PreGain > 32 {
		c.PreGain = 32
	} else if c.PreGain < -32 {
		c.PreGain = -32
	}
	if c.MaxTruePeak > 32 {
		c.MaxTruePeak = 32
	} else if c.MaxTruePeak < -32 {
		c.MaxTruePeak = -32
	}
	if c.ID3v2Version < 3 {
		c.ID3v2Version = 3
	} else if c.ID3v2Version > 4 {
		c.ID3v2Version = 4
	}
	switch c.TagMode {
	case TagModeSkip, TagModeWrite, TagModeExtra, TagModeDelete:
	default:
		c.TagMode = TagModeSkip
	}
}

// SetExtensions replaces the extension filter with a user-provided
// comma-separated list. Entries not in SupportedExtensions are dropped.
func (c *Config) SetExtensions(list string) {
	supported := make(map[string]struct{}, len(SupportedExtensions))
	for _, ext := range SupportedExtensions {
		supported[ext] = struct{}{}
	}

	var exts []string
	for _, raw := range strings.Split(list, ",") {
		ext := strings.ToLower(strings.TrimSpace(raw))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if _, ok := supported[ext]; ok {
			exts = append(exts, ext)
		}
	}
	if len(exts) > 0 {
		c.Extensions = exts
	}
}

// Unit returns the loudness unit label used in reports.
func (c *Config) Unit() string {
	if c.UnitLU {
		return "LU"
	}
	return "dB"
}
