/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config holds the engine-wide configuration for an SCDB instance:
container layout (page size, allocation strategy), durability mode and
group-commit batching, cache sizing, encryption, query cache sizing, storage
mode, and SQL parameter validation strictness.

Values are resolved in three layers, lowest to highest precedence:
DefaultConfig(), an optional `key = value` file loaded with LoadFromFile, and
process environment variables loaded with LoadFromEnv.
*/
package config

import (
	"fmt"
	"time"
)

// Config holds every tunable of a single SCDB instance.
type Config struct {
	PageSize                  int
	CacheSizePages            int
	Durability                string // FullSync | GroupCommit | Async
	GroupCommitBatchSize      int
	GroupCommitTimeout        time.Duration
	AllocationStrategy        string // FirstFit | BestFit | WorstFit
	EnableEncryption          bool
	EncryptionPassphrase      string
	EnableQueryCache          bool
	QueryCacheSize            int
	StorageMode               string // SingleFile | Directory
	StrictParameterValidation bool
	SQLValidation             string // Disabled | Lenient | Strict
	CompressionAlgorithm      string // none | gzip | lz4 | snappy | zstd

	DBPath   string
	LogLevel string
	LogJSON  bool

	// ConfigFile records the path LoadFromFile populated this Config from,
	// empty when the Config was built in-process.
	ConfigFile string
}

// DefaultConfig returns a Config populated with the engine's documented
// defaults.
func DefaultConfig() *Config {
	return &Config{
		PageSize:                  4096,
		CacheSizePages:            1024,
		Durability:                "FullSync",
		GroupCommitBatchSize:      10,
		GroupCommitTimeout:        10 * time.Millisecond,
		AllocationStrategy:        "BestFit",
		EnableEncryption:          false,
		EnableQueryCache:          true,
		QueryCacheSize:            1024,
		StorageMode:               "SingleFile",
		StrictParameterValidation: false,
		SQLValidation:             "Lenient",
		CompressionAlgorithm:      "none",
		DBPath:                    "scdb.db",
		LogLevel:                  "info",
		LogJSON:                   false,
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Validate checks that the configuration is internally consistent, returning
// a descriptive error for the first violation found.
func (c *Config) Validate() error {
	if c.PageSize < 512 || c.PageSize > 65536 || !isPowerOfTwo(c.PageSize) {
		return fmt.Errorf("config: page_size must be a power of two between 512 and 65536, got %d", c.PageSize)
	}
	if c.CacheSizePages <= 0 {
		return fmt.Errorf("config: cache_size_pages must be positive, got %d", c.CacheSizePages)
	}
	switch c.Durability {
	case "FullSync", "GroupCommit", "Async":
	default:
		return fmt.Errorf("config: durability must be one of FullSync, GroupCommit, Async, got %q", c.Durability)
	}
	if c.Durability == "GroupCommit" && c.GroupCommitBatchSize <= 0 {
		return fmt.Errorf("config: group_commit_batch_size must be positive under GroupCommit durability, got %d", c.GroupCommitBatchSize)
	}
	switch c.AllocationStrategy {
	case "FirstFit", "BestFit", "WorstFit":
	default:
		return fmt.Errorf("config: allocation_strategy must be one of FirstFit, BestFit, WorstFit, got %q", c.AllocationStrategy)
	}
	if c.QueryCacheSize < 0 {
		return fmt.Errorf("config: query_cache_size must not be negative, got %d", c.QueryCacheSize)
	}
	switch c.StorageMode {
	case "SingleFile", "Directory":
	default:
		return fmt.Errorf("config: storage_mode must be one of SingleFile, Directory, got %q", c.StorageMode)
	}
	switch c.SQLValidation {
	case "Disabled", "Lenient", "Strict":
	default:
		return fmt.Errorf("config: sql_validation must be one of Disabled, Lenient, Strict, got %q", c.SQLValidation)
	}
	switch c.CompressionAlgorithm {
	case "", "none", "gzip", "lz4", "snappy", "zstd":
	default:
		return fmt.Errorf("config: compression_algorithm must be one of none, gzip, lz4, snappy, zstd, got %q", c.CompressionAlgorithm)
	}
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// String renders the configuration as a human-readable multi-line summary,
// omitting the encryption passphrase.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{\n"+
			"  PageSize: %d\n"+
			"  CacheSizePages: %d\n"+
			"  Durability: %s\n"+
			"  GroupCommitBatchSize: %d\n"+
			"  AllocationStrategy: %s\n"+
			"  EnableEncryption: %v\n"+
			"  EnableQueryCache: %v\n"+
			"  QueryCacheSize: %d\n"+
			"  StorageMode: %s\n"+
			"  StrictParameterValidation: %v\n"+
			"  SQLValidation: %s\n"+
			"  CompressionAlgorithm: %s\n"+
			"  DBPath: %s\n"+
			"  LogLevel: %s\n"+
			"  LogJSON: %v\n"+
			"}",
		c.PageSize, c.CacheSizePages, c.Durability, c.GroupCommitBatchSize,
		c.AllocationStrategy, c.EnableEncryption, c.EnableQueryCache,
		c.QueryCacheSize, c.StorageMode, c.StrictParameterValidation,
		c.SQLValidation, c.CompressionAlgorithm, c.DBPath, c.LogLevel, c.LogJSON,
	)
}

// ToTOML renders the configuration in the hand-rolled `key = value` format
// LoadFromFile/SaveToFile read and write.
func (c *Config) ToTOML() string {
	return fmt.Sprintf(
		"page_size = %d\n"+
			"cache_size_pages = %d\n"+
			"durability = %q\n"+
			"group_commit_batch_size = %d\n"+
			"allocation_strategy = %q\n"+
			"enable_encryption = %v\n"+
			"enable_query_cache = %v\n"+
			"query_cache_size = %d\n"+
			"storage_mode = %q\n"+
			"strict_parameter_validation = %v\n"+
			"sql_validation = %q\n"+
			"compression_algorithm = %q\n"+
			"db_path = %q\n"+
			"log_level = %q\n"+
			"log_json = %v\n",
		c.PageSize, c.CacheSizePages, c.Durability, c.GroupCommitBatchSize,
		c.AllocationStrategy, c.EnableEncryption, c.EnableQueryCache,
		c.QueryCacheSize, c.StorageMode, c.StrictParameterValidation,
		c.SQLValidation, c.CompressionAlgorithm, c.DBPath, c.LogLevel, c.LogJSON,
	)
}
