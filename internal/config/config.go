package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 应用配置
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	// Per-client limit on /api/v1, 0 disables it
	RateLimit  int
	RateWindow time.Duration

	// External services
	ValhallaURL string
	OverpassURL string
	TileURL     string // template with {z}, {x} and {y} placeholders
	UserAgent   string
	HTTPTimeout time.Duration
	RedisAddr   string // empty keeps the way cache in memory

	// Map matching
	SearchRadius float64 // meters
	KNeighbors   int
	GPSAccuracy  float64 // meters
	MatchWorkers int

	// Trajectory cleaning, distances in degrees
	NoiseThreshold float64
	GapMin         float64
	GapMax         float64
	GapStep        float64

	// Aggregation
	SamplingInterval float64 // seconds between fixes
	TopK             int
	CacheCapacity    int // 0 = unbounded
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Port:             ":8080",
		DBPath:           "./data/porto.db",
		JWTSecret:        "your-secret-key-change-in-production",
		RateLimit:        300,
		RateWindow:       time.Minute,
		ValhallaURL:      "http://localhost:8002",
		OverpassURL:      "https://overpass-api.de/api/interpreter",
		TileURL:          "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		UserAgent:        "porto-trajectory-go",
		HTTPTimeout:      30 * time.Second,
		SearchRadius:     30,
		KNeighbors:       8,
		GPSAccuracy:      5,
		MatchWorkers:     4,
		NoiseThreshold:   0.0002,
		GapMin:           0.005,
		GapMax:           0.1,
		GapStep:          0.005,
		SamplingInterval: 15,
		TopK:             10,
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	d := Default()
	cfg := &Config{
		Port:        getenvDefault("PORT", d.Port),
		DBPath:      getenvDefault("DB_PATH", d.DBPath),
		JWTSecret:   getenvDefault("JWT_SECRET", d.JWTSecret),
		ValhallaURL: getenvDefault("VALHALLA_URL", d.ValhallaURL),
		OverpassURL: getenvDefault("OVERPASS_URL", d.OverpassURL),
		TileURL:     getenvDefault("TILE_URL", d.TileURL),
		UserAgent:   getenvDefault("USER_AGENT", d.UserAgent),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", d.HTTPTimeout); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = getenvInt("RATE_LIMIT", d.RateLimit); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = getenvDuration("RATE_WINDOW", d.RateWindow); err != nil {
		return nil, err
	}
	if cfg.SearchRadius, err = getenvFloat("MATCH_SEARCH_RADIUS", d.SearchRadius); err != nil {
		return nil, err
	}
	if cfg.KNeighbors, err = getenvInt("MATCH_K_NEIGHBORS", d.KNeighbors); err != nil {
		return nil, err
	}
	if cfg.GPSAccuracy, err = getenvFloat("MATCH_GPS_ACCURACY", d.GPSAccuracy); err != nil {
		return nil, err
	}
	if cfg.MatchWorkers, err = getenvInt("MATCH_WORKERS", d.MatchWorkers); err != nil {
		return nil, err
	}
	if cfg.NoiseThreshold, err = getenvFloat("SANITIZE_NOISE", d.NoiseThreshold); err != nil {
		return nil, err
	}
	if cfg.GapMin, err = getenvFloat("SANITIZE_GAP_MIN", d.GapMin); err != nil {
		return nil, err
	}
	if cfg.GapMax, err = getenvFloat("SANITIZE_GAP_MAX", d.GapMax); err != nil {
		return nil, err
	}
	if cfg.GapStep, err = getenvFloat("SANITIZE_GAP_STEP", d.GapStep); err != nil {
		return nil, err
	}
	if cfg.SamplingInterval, err = getenvFloat("SAMPLING_INTERVAL", d.SamplingInterval); err != nil {
		return nil, err
	}
	if cfg.TopK, err = getenvInt("TOP_K", d.TopK); err != nil {
		return nil, err
	}
	if cfg.CacheCapacity, err = getenvInt("CACHE_CAPACITY", d.CacheCapacity); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.GapMin <= 0 || c.GapMax < c.GapMin {
		return fmt.Errorf("invalid gap thresholds: min=%v max=%v", c.GapMin, c.GapMax)
	}
	if c.GapStep < 0 {
		return fmt.Errorf("invalid SANITIZE_GAP_STEP: %v", c.GapStep)
	}
	if c.NoiseThreshold < 0 || c.NoiseThreshold >= c.GapMin {
		return fmt.Errorf("invalid SANITIZE_NOISE: %v", c.NoiseThreshold)
	}
	if c.SamplingInterval <= 0 {
		return fmt.Errorf("invalid SAMPLING_INTERVAL: %v", c.SamplingInterval)
	}
	if c.MatchWorkers < 1 {
		return fmt.Errorf("invalid MATCH_WORKERS: %d", c.MatchWorkers)
	}
	if c.TopK < 1 {
		return fmt.Errorf("invalid TOP_K: %d", c.TopK)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid RATE_LIMIT: %d", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		return fmt.Errorf("invalid RATE_WINDOW: %v", c.RateWindow)
	}
	if c.CacheCapacity < 0 {
		return fmt.Errorf("invalid CACHE_CAPACITY: %d", c.CacheCapacity)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}
