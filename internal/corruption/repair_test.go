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
	"testing"

	"scdb/internal/container"
)

func corruptedContainer(t *testing.T) (*container.Container, string) {
	t.Helper()
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
	return c2, path
}

func TestRepairConservativeNeverDeletesData(t *testing.T) {
	c, _ := corruptedContainer(t)
	defer c.Close()

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Standard)
	if err != nil || !report.IsCorrupted {
		t.Fatalf("expected a corrupted report, got %+v err=%v", report, err)
	}

	rep := NewRepairer(Target{Container: c})
	result, err := rep.Repair(report, RepairOptions{Aggressiveness: Conservative})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(result.Repaired) != 0 {
		t.Fatalf("expected Conservative to repair nothing, got %+v", result.Repaired)
	}
	if len(result.Skipped) != len(report.Issues) {
		t.Fatalf("expected every issue to be skipped, got %d of %d", len(result.Skipped), len(report.Issues))
	}
}

func TestRepairStandardDeletesRepairableCorruptBlock(t *testing.T) {
	c, _ := corruptedContainer(t)
	defer c.Close()

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Standard)
	if err != nil || !report.IsCorrupted {
		t.Fatalf("expected a corrupted report, got %+v err=%v", report, err)
	}

	rep := NewRepairer(Target{Container: c})
	result, err := rep.Repair(report, RepairOptions{Aggressiveness: Standard})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(result.Repaired) != 1 {
		t.Fatalf("expected one issue repaired, got %+v", result.Repaired)
	}
	if result.FinalReport == nil || result.FinalReport.IsCorrupted {
		t.Fatalf("expected a clean re-validation after repair, got %+v", result.FinalReport)
	}
	if _, ok, _ := c.ReadBlock("users:pages"); ok {
		t.Fatal("expected the corrupted block to have been removed")
	}
}

func TestRepairBackupCapturesPreRepairFile(t *testing.T) {
	c, path := corruptedContainer(t)
	defer c.Close()

	v := NewValidator(Target{Container: c})
	report, err := v.Validate(Standard)
	if err != nil || !report.IsCorrupted {
		t.Fatalf("expected a corrupted report, got %+v err=%v", report, err)
	}

	backupPath := path + ".bak"
	beforeRepair, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	rep := NewRepairer(Target{Container: c})
	result, err := rep.Repair(report, RepairOptions{Aggressiveness: Standard, Backup: true, BackupPath: backupPath})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if result.BackupPath != backupPath {
		t.Fatalf("BackupPath = %q, want %q", result.BackupPath, backupPath)
	}
	backedUp, err := os.ReadFile(backupPath)
	if err != nil {
		t.Fatalf("ReadFile backup: %v", err)
	}
	if !bytes.Equal(backedUp, beforeRepair) {
		t.Fatal("expected the backup to capture the pre-repair file contents")
	}
}

func TestRepairProgressCallbackFiresPerIssue(t *testing.T) {
	c, _ := corruptedContainer(t)
	defer c.Close()

	v := NewValidator(Target{Container: c})
	report, _ := v.Validate(Standard)

	var calls []Progress
	rep := NewRepairer(Target{Container: c})
	_, err := rep.Repair(report, RepairOptions{
		Aggressiveness: Standard,
		OnProgress:     func(p Progress) { calls = append(calls, p) },
	})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(calls) != len(report.Issues) {
		t.Fatalf("expected one progress callback per issue, got %d calls for %d issues", len(calls), len(report.Issues))
	}
	if len(calls) > 0 && calls[len(calls)-1].Current != calls[len(calls)-1].Total {
		t.Fatalf("expected the last progress report to reach Total, got %+v", calls[len(calls)-1])
	}
}
