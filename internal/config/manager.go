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

package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names recognized by LoadFromEnv.
const (
	EnvPageSize                  = "SCDB_PAGE_SIZE"
	EnvCacheSizePages            = "SCDB_CACHE_SIZE_PAGES"
	EnvDurability                = "SCDB_DURABILITY"
	EnvGroupCommitBatchSize      = "SCDB_GROUP_COMMIT_BATCH_SIZE"
	EnvAllocationStrategy        = "SCDB_ALLOCATION_STRATEGY"
	EnvEnableEncryption          = "SCDB_ENABLE_ENCRYPTION"
	EnvEncryptionPassphrase      = "SCDB_ENCRYPTION_PASSPHRASE"
	EnvEnableQueryCache          = "SCDB_ENABLE_QUERY_CACHE"
	EnvQueryCacheSize            = "SCDB_QUERY_CACHE_SIZE"
	EnvStorageMode               = "SCDB_STORAGE_MODE"
	EnvStrictParameterValidation = "SCDB_STRICT_PARAMETER_VALIDATION"
	EnvSQLValidation             = "SCDB_SQL_VALIDATION"
	EnvCompressionAlgorithm      = "SCDB_COMPRESSION_ALGORITHM"
	EnvDBPath                    = "SCDB_DB_PATH"
	EnvLogLevel                  = "SCDB_LOG_LEVEL"
	EnvLogJSON                   = "SCDB_LOG_JSON"
)

// Manager owns the live Config for a process, resolving it from defaults, an
// optional file, and environment variables, and notifying subscribers on
// Reload.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
	onReload []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig().
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current Config. Callers must not mutate the returned value.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// LoadFromFile parses a `key = value` configuration file, applying its
// values on top of the Manager's current Config.
func (m *Manager) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := applyFile(m.cfg, f); err != nil {
		return err
	}
	m.cfg.ConfigFile = path
	m.filePath = path
	return nil
}

// LoadFromEnv applies any recognized SCDB_* environment variables on top of
// the Manager's current Config. Unset variables leave their field untouched.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	applyEnv(m.cfg)
}

// Reload re-reads the file this Manager was last loaded from (if any) and
// re-applies the environment on top, then invokes every OnReload callback.
func (m *Manager) Reload() error {
	m.mu.Lock()
	path := m.filePath
	m.mu.Unlock()

	if path == "" {
		return fmt.Errorf("config: Reload called with no prior LoadFromFile")
	}

	fresh := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: reload open %s: %w", path, err)
	}
	if err := applyFile(fresh, f); err != nil {
		f.Close()
		return err
	}
	f.Close()
	fresh.ConfigFile = path
	applyEnv(fresh)

	m.mu.Lock()
	m.cfg = fresh
	callbacks := append([]func(*Config){}, m.onReload...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(fresh)
	}
	return nil
}

// SaveToFile writes the configuration to path in `key = value` form,
// creating parent directories as needed.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0644)
}

func applyFile(cfg *Config, f *os.File) error {
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return fmt.Errorf("config: line %d: expected 'key = value', got %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		val = strings.Trim(val, `"`)
		if err := setField(cfg, key, val); err != nil {
			return fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func setField(cfg *Config, key, val string) error {
	switch key {
	case "page_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("page_size: %w", err)
		}
		cfg.PageSize = n
	case "cache_size_pages":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("cache_size_pages: %w", err)
		}
		cfg.CacheSizePages = n
	case "durability":
		cfg.Durability = val
	case "group_commit_batch_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("group_commit_batch_size: %w", err)
		}
		cfg.GroupCommitBatchSize = n
	case "allocation_strategy":
		cfg.AllocationStrategy = val
	case "enable_encryption":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("enable_encryption: %w", err)
		}
		cfg.EnableEncryption = b
	case "encryption_passphrase":
		cfg.EncryptionPassphrase = val
	case "enable_query_cache":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("enable_query_cache: %w", err)
		}
		cfg.EnableQueryCache = b
	case "query_cache_size":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("query_cache_size: %w", err)
		}
		cfg.QueryCacheSize = n
	case "storage_mode":
		cfg.StorageMode = val
	case "strict_parameter_validation":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("strict_parameter_validation: %w", err)
		}
		cfg.StrictParameterValidation = b
	case "sql_validation":
		cfg.SQLValidation = val
	case "compression_algorithm":
		cfg.CompressionAlgorithm = val
	case "db_path":
		cfg.DBPath = val
	case "log_level":
		cfg.LogLevel = val
	case "log_json":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("log_json: %w", err)
		}
		cfg.LogJSON = b
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvPageSize); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PageSize = n
		}
	}
	if v, ok := os.LookupEnv(EnvCacheSizePages); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheSizePages = n
		}
	}
	if v, ok := os.LookupEnv(EnvDurability); ok {
		cfg.Durability = v
	}
	if v, ok := os.LookupEnv(EnvGroupCommitBatchSize); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GroupCommitBatchSize = n
		}
	}
	if v, ok := os.LookupEnv(EnvAllocationStrategy); ok {
		cfg.AllocationStrategy = v
	}
	if v, ok := os.LookupEnv(EnvEnableEncryption); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableEncryption = b
		}
	}
	if v, ok := os.LookupEnv(EnvEncryptionPassphrase); ok {
		cfg.EncryptionPassphrase = v
	}
	if v, ok := os.LookupEnv(EnvEnableQueryCache); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableQueryCache = b
		}
	}
	if v, ok := os.LookupEnv(EnvQueryCacheSize); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueryCacheSize = n
		}
	}
	if v, ok := os.LookupEnv(EnvStorageMode); ok {
		cfg.StorageMode = v
	}
	if v, ok := os.LookupEnv(EnvStrictParameterValidation); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictParameterValidation = b
		}
	}
	if v, ok := os.LookupEnv(EnvSQLValidation); ok {
		cfg.SQLValidation = v
	}
	if v, ok := os.LookupEnv(EnvCompressionAlgorithm); ok {
		cfg.CompressionAlgorithm = v
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvLogJSON); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager, creating it on first use.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
