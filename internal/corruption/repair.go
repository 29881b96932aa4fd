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
	"io"
	"os"

	scdberrors "scdb/internal/errors"
	"scdb/internal/logging"
)

// Aggressiveness controls how far Repair goes to restore a usable file.
type Aggressiveness int

const (
	// Conservative never discards data; it only fixes issues that have a
	// non-destructive remedy (currently none at the container level, since
	// a checksum mismatch means the bytes are already gone). Conservative
	// runs always report every repairable issue as unrepaired, leaving the
	// decision to re-run at a higher aggressiveness to the operator.
	Conservative Aggressiveness = iota
	// Standard discards a corrupted block's content (the data within it is
	// already unrecoverable once its checksum fails) but refuses to touch
	// blocks the validator could not even classify as corrupt.
	Standard
	// Aggressive removes any block the validator flagged at all, including
	// ones validation could only mark as inconsistent rather than
	// definitively corrupt, trading maximum willingness to restore a
	// clean-reporting file for a higher chance of discarding salvageable
	// data.
	Aggressive
)

// Progress reports repair progress out of band, so a long repair over a
// large file can drive a UI progress bar.
type Progress struct {
	Current int
	Total   int
	Block   string
}

// RepairOptions configures a Repair run.
type RepairOptions struct {
	Aggressiveness Aggressiveness
	Backup         bool // copy the container file aside before making changes
	BackupPath     string
	OnProgress     func(Progress)
}

// RepairResult summarizes what a Repair run did.
type RepairResult struct {
	Repaired    []Issue
	Skipped     []Issue
	BackupPath  string
	RolledBack  bool
	FinalReport *Report
}

// Repairer fixes issues a Validator found, operating on the same Target.
type Repairer struct {
	target Target
	log    *logging.Logger
}

// NewRepairer builds a Repairer over target.
func NewRepairer(target Target) *Repairer {
	return &Repairer{target: target, log: logging.NewLogger("corruption")}
}

// Repair attempts to fix every issue in report, honoring
// opts.Aggressiveness, and populates result.FinalReport with a
// Standard-mode re-validation afterward for convenience.
func (r *Repairer) Repair(report *Report, opts RepairOptions) (result *RepairResult, err error) {
	result = &RepairResult{}

	if opts.Backup {
		backupPath := opts.BackupPath
		if backupPath == "" {
			backupPath = r.target.Container.Path() + ".bak"
		}
		if err := copyFile(r.target.Container.Path(), backupPath); err != nil {
			return nil, scdberrors.InvariantViolation("corruption: backup failed: %v", err)
		}
		result.BackupPath = backupPath
	}

	defer func() {
		if err != nil && result.BackupPath != "" {
			if rbErr := copyFile(result.BackupPath, r.target.Container.Path()); rbErr == nil {
				result.RolledBack = true
			} else {
				r.log.Error("rollback after failed repair also failed", "error", rbErr)
			}
		}
	}()

	total := len(report.Issues)
	for i, issue := range report.Issues {
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: i + 1, Total: total, Block: issue.Block})
		}

		if !r.shouldFix(issue, opts.Aggressiveness) {
			result.Skipped = append(result.Skipped, issue)
			continue
		}

		if issue.Block == "" {
			// Not a block-scoped issue (e.g. WAL corruption); nothing this
			// layer can fix beyond what recovery already did on open.
			result.Skipped = append(result.Skipped, issue)
			continue
		}

		if delErr := r.target.Container.DeleteBlock(issue.Block); delErr != nil {
			// result stays non-nil so the deferred rollback can record
			// RolledBack on it.
			return result, delErr
		}
		result.Repaired = append(result.Repaired, issue)
	}

	if flushErr := r.target.Container.Flush(); flushErr != nil {
		return result, flushErr
	}

	v := NewValidator(r.target)
	finalReport, valErr := v.Validate(Standard)
	if valErr == nil {
		result.FinalReport = finalReport
	}
	return result, nil
}

// shouldFix decides whether an issue is in scope for the given
// aggressiveness level.
func (r *Repairer) shouldFix(issue Issue, level Aggressiveness) bool {
	switch level {
	case Conservative:
		return false
	case Standard:
		return issue.Repairable
	case Aggressive:
		return true
	default:
		return false
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
