package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds the global configuration for a tile generation run.
type Config struct {
	// Input settings
	InputFile string // OSM PBF input

	// Output settings
	OutputDir    string // directory sink for z/x/y.mvt files
	ParquetStats string // optional per-tile stats Parquet file
	MinZoom      int
	MaxZoom      int

	// Core pipeline settings recognized by the feature pipeline
	ChunkMemoryBudgetBytes int64  // in-memory sort chunk byte budget
	ChunkMaxEntries        int    // in-memory sort chunk record cap
	TempDir                string // scratch directory for sort run files
	SortParallelism        int    // workers used to sort chunks
	SortMmap               bool   // read run files through mmap during merge
	BufferPixels           float64
	TileExtent             int

	// Profile settings
	ProfileScript string // Lua profile script
	StyleFile     string // YAML layer rules (alternative to Lua)

	// Database settings (optional tile archive sink)
	DBEnabled  bool
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string

	// Processing settings
	Workers int

	// Logging and metrics
	Verbose         bool
	LogFile         string
	MetricsInterval time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:              "./tiles",
		MinZoom:                0,
		MaxZoom:                14,
		ChunkMemoryBudgetBytes: 1 << 30,
		ChunkMaxEntries:        10_000_000,
		TempDir:                "",
		SortParallelism:        runtime.NumCPU(),
		BufferPixels:           4,
		TileExtent:             256,
		DBHost:                 "localhost",
		DBPort:                 5432,
		DBName:                 "tiles",
		DBUser:                 "postgres",
		DBSchema:               "public",
		Workers:                runtime.NumCPU(),
	}
}

// ConnectionString builds the PostgreSQL connection string for the archive sink
func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.MinZoom < 0 || c.MaxZoom > 15 {
		return fmt.Errorf("zoom range must lie within 0..15, got %d..%d", c.MinZoom, c.MaxZoom)
	}
	if c.MinZoom > c.MaxZoom {
		return fmt.Errorf("min zoom (%d) must be <= max zoom (%d)", c.MinZoom, c.MaxZoom)
	}
	if c.ChunkMemoryBudgetBytes <= 0 {
		return fmt.Errorf("chunk memory budget must be positive, got %d", c.ChunkMemoryBudgetBytes)
	}
	if c.ChunkMaxEntries <= 0 {
		return fmt.Errorf("chunk entry cap must be positive, got %d", c.ChunkMaxEntries)
	}
	if c.SortParallelism <= 0 {
		c.SortParallelism = 1
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.TileExtent <= 0 {
		return fmt.Errorf("tile extent must be positive, got %d", c.TileExtent)
	}
	if c.BufferPixels < 0 {
		return fmt.Errorf("buffer pixels must not be negative, got %f", c.BufferPixels)
	}
	if c.ProfileScript != "" && c.StyleFile != "" {
		return fmt.Errorf("profile script and style file are mutually exclusive")
	}
	return nil
}
