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

package corruption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"scdb/internal/container"
)

func tempDB(t *testing.T) (*container.Container, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.scdb")
	c, err := container.Open(path, container.Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c, path
}

func TestValidateQuickHealthyFileReportsNoCorruption(t *testing.T) {
	c, _ := tempDB(t)
	defer c.Close()
	if err := c.WriteBlock("users:pages", bytes.Repeat([]byte("x"), 100), container.BlockTypeTablePages); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Quick)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.IsCorrupted {
		t.Fatalf("expected a healthy file to report no corruption, got %+v", report.Issues)
	}
}

func TestValidateStandardDetectsFlippedBlockByte(t *testing.T) {
	c, path := tempDB(t)
	payload := bytes.Repeat([]byte("row-"), 200)
	if err := c.WriteBlock("users:pages", payload, container.BlockTypeTablePages); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.Close()

	corruptByteInFile(t, path, payload[:8])

	c2, err := container.Open(path, container.Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	v := NewValidator(Target{Container: c2})
	report, err := v.Validate(Standard)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !report.IsCorrupted {
		t.Fatal("expected corruption to be detected")
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Type == IssueBlockChecksum && issue.Block == "users:pages" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a checksum-mismatch issue on users:pages, got %+v", report.Issues)
	}
	if report.BlocksValidated < 1 {
		t.Fatalf("expected at least one block validated, got %d", report.BlocksValidated)
	}
}

// corruptByteInFile finds needle in the file at path and flips its first
// byte, simulating a single-bit storage fault on an otherwise
// well-formed container.
func corruptByteInFile(t *testing.T, path string, needle []byte) {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	idx := bytes.Index(raw, needle)
	if idx < 0 {
		t.Fatal("needle not found in file")
	}
	raw[idx] ^= 0xFF
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestValidateQuickDoesNotReadBlockContent(t *testing.T) {
	c, path := tempDB(t)
	payload := bytes.Repeat([]byte("row-"), 200)
	if err := c.WriteBlock("users:pages", payload, container.BlockTypeTablePages); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	c.Close()

	corruptByteInFile(t, path, payload[:8])

	c2, err := container.Open(path, container.Options{PageSize: 4096})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	v := NewValidator(Target{Container: c2})
	report, err := v.Validate(Quick)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.IsCorrupted {
		t.Fatal("expected Quick mode to miss block-content corruption, since it never reads block bytes")
	}
}

func TestValidateDeepWithNoWALDirIsANoOp(t *testing.T) {
	c, _ := tempDB(t)
	defer c.Close()

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Deep)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.IsCorrupted {
		t.Fatalf("expected no WAL directory to mean no WAL issues, got %+v", report.Issues)
	}
}

func TestValidateParanoidAgreesOnARepeatedReadOfAHealthyBlock(t *testing.T) {
	c, _ := tempDB(t)
	defer c.Close()
	if err := c.WriteBlock("users:pages", bytes.Repeat([]byte("x"), 64), container.BlockTypeTablePages); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Paranoid)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.IsCorrupted {
		t.Fatalf("expected two consistent reads to report no corruption, got %+v", report.Issues)
	}
}
