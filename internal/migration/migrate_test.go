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

package migration

import (
	"os"
	"path/filepath"
	"testing"

	"scdb/internal/container"
)

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	blocks := map[string]string{
		"users:pages":   "row-row-row-row-",
		"users:idx:id":  "btree-node-bytes",
		"system:schema": `{"tables":["users"]}`,
	}
	for name, content := range blocks {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile %q: %v", name, err)
		}
	}
	return dir
}

func targetContainer(t *testing.T) (*container.Container, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrated.scdb")
	c, err := container.Open(path, container.Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, path
}

func TestMigrateCopiesEveryBlockByteForByte(t *testing.T) {
	src := sourceDir(t)
	target, _ := targetContainer(t)
	defer target.Close()

	result, err := Migrate(src, target, Options{})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.BlocksMigrated != 3 {
		t.Fatalf("BlocksMigrated = %d, want 3", result.BlocksMigrated)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		want, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		got, ok, err := target.ReadBlock(e.Name())
		if err != nil || !ok {
			t.Fatalf("ReadBlock(%q): ok=%v err=%v", e.Name(), ok, err)
		}
		if string(got) != string(want) {
			t.Fatalf("block %q mismatch: got %q want %q", e.Name(), got, want)
		}
	}
}

func TestMigrateReportsProgressPerBlockWithPercentComplete(t *testing.T) {
	src := sourceDir(t)
	target, _ := targetContainer(t)
	defer target.Close()

	var calls []Progress
	_, err := Migrate(src, target, Options{
		OnProgress: func(p Progress) { calls = append(calls, p) },
	})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", len(calls))
	}
	last := calls[len(calls)-1]
	if last.Current != last.Total || last.Percent != 100 {
		t.Fatalf("expected the final callback to reach 100%%, got %+v", last)
	}
}

func TestMigrateWithBackupPreservesSourceDirectory(t *testing.T) {
	src := sourceDir(t)
	target, _ := targetContainer(t)
	defer target.Close()

	backupPath := src + ".bak"
	result, err := Migrate(src, target, Options{Backup: true, BackupPath: backupPath})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.BackupPath != backupPath {
		t.Fatalf("BackupPath = %q, want %q", result.BackupPath, backupPath)
	}
	want, err := os.ReadFile(filepath.Join(src, "users:pages"))
	if err != nil {
		t.Fatalf("ReadFile source: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(backupPath, "users:pages"))
	if err != nil {
		t.Fatalf("ReadFile backup: %v", err)
	}
	if string(got) != string(want) {
		t.Fatal("expected the backup copy to match the source block exactly")
	}
}

func TestMigrateWithValidateProducesACleanReport(t *testing.T) {
	src := sourceDir(t)
	target, _ := targetContainer(t)
	defer target.Close()

	result, err := Migrate(src, target, Options{Validate: true})
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.Report == nil {
		t.Fatal("expected a validation report when Validate is set")
	}
	if result.Report.IsCorrupted {
		t.Fatalf("expected a freshly migrated container to validate clean, got %+v", result.Report.Issues)
	}
}

func TestMigrateMissingSourceDirectoryErrors(t *testing.T) {
	target, _ := targetContainer(t)
	defer target.Close()

	if _, err := Migrate(filepath.Join(t.TempDir(), "does-not-exist"), target, Options{}); err == nil {
		t.Fatal("expected an error for a missing source directory")
	}
}
