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
	"fmt"
	"time"

	"scdb/internal/container"
	"scdb/internal/logging"
	"scdb/internal/wal"
)

// Target is what a Validator inspects: an already-open container, plus an
// optional WAL directory Deep/Paranoid mode replays. WALDir is empty when
// the database carries no separate WAL (or the caller only wants the
// container-level checks).
type Target struct {
	Container *container.Container
	WALDir    string
	WALConfig wal.Config
}

// Validator runs structural validation passes against a Target.
type Validator struct {
	target Target
	log    *logging.Logger
}

// NewValidator builds a Validator over target.
func NewValidator(target Target) *Validator {
	return &Validator{target: target, log: logging.NewLogger("corruption")}
}

// Validate runs mode's checks and returns a Report. Each mode is a strict
// superset of the one before it: Standard implies Quick's checks also
// passed, Deep implies Standard's, Paranoid implies Deep's.
func (v *Validator) Validate(mode Mode) (*Report, error) {
	start := time.Now()
	report := &Report{Severity: SeverityNone}

	if err := v.quickCheck(report); err != nil {
		return nil, err
	}
	if mode >= Standard {
		if err := v.standardCheck(report); err != nil {
			return nil, err
		}
	}
	if mode >= Deep {
		v.deepCheck(report)
	}
	if mode >= Paranoid {
		if err := v.paranoidCheck(report); err != nil {
			return nil, err
		}
	}

	report.ValidationTime = time.Since(start)
	v.log.Info("validation complete", "mode", mode.String(), "corrupted", report.IsCorrupted,
		"severity", report.Severity.String(), "blocksValidated", report.BlocksValidated,
		"duration", report.ValidationTime)
	return report, nil
}

// quickCheck is the ≤5ms header + registry structural sanity pass.
// Opening the container already parses and validates the magic, format
// version, and registry blob (container.Open returns a FormatMismatch or
// Corruption error if any of those are malformed), so by the time a
// Validator holds a live *container.Container those checks have already
// passed; this re-asserts the invariants that matter to keep validating
// (a sane page size, a readable block name listing) rather than
// re-parsing bytes container.Open already parsed.
func (v *Validator) quickCheck(report *Report) error {
	c := v.target.Container
	if c.PageSize() == 0 {
		report.addIssue(Issue{Type: IssueHeaderMismatch, Description: "container reports a zero page size"})
		return nil
	}
	names := c.EnumerateBlocks()
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			report.addIssue(Issue{
				Type:        IssueRegistryCorrupt,
				Description: fmt.Sprintf("duplicate block name %q in registry", name),
				Block:       name,
				Repairable:  false,
			})
			continue
		}
		seen[name] = true
	}
	report.BlocksValidated = 0
	return nil
}

// standardCheck reads every block and lets Container.ReadBlock's own
// checksum verification surface corruption.
func (v *Validator) standardCheck(report *Report) error {
	c := v.target.Container
	for _, name := range c.EnumerateBlocks() {
		data, ok, err := c.ReadBlock(name)
		report.BlocksValidated++
		if err != nil {
			report.addIssue(Issue{
				Type:        IssueBlockChecksum,
				Description: err.Error(),
				Block:       name,
				Repairable:  true,
			})
			continue
		}
		if !ok {
			report.addIssue(Issue{
				Type:        IssueBlockUnreadable,
				Description: "block listed in registry but not found on read",
				Block:       name,
				Repairable:  false,
			})
			continue
		}
		report.BytesScanned += uint64(len(data))
	}
	return nil
}

// deepCheck replays the WAL, the same recovery pass a normal Open runs,
// surfacing any error recovery hits before it reaches the (silently
// acceptable) torn tail.
func (v *Validator) deepCheck(report *Report) {
	if v.target.WALDir == "" {
		return
	}
	if _, err := wal.Recover(v.target.WALConfig, v.target.WALDir); err != nil {
		report.addIssue(Issue{
			Type:        IssueWALCorrupt,
			Description: err.Error(),
			Repairable:  false,
		})
	}
}

// paranoidCheck re-reads every block a second time and compares it
// against the first read, catching a read that differs between two
// independent passes (e.g. a transient fault on one physical read) rather
// than a value that is simply wrong on disk both times.
func (v *Validator) paranoidCheck(report *Report) error {
	c := v.target.Container
	for _, name := range c.EnumerateBlocks() {
		first, ok1, err1 := c.ReadBlock(name)
		second, ok2, err2 := c.ReadBlock(name)
		if err1 != nil || err2 != nil || ok1 != ok2 {
			continue // already reported by standardCheck
		}
		if !ok1 {
			continue
		}
		if len(first) != len(second) {
			report.addIssue(Issue{
				Type:        IssueBlockInconsistent,
				Description: "two independent reads of the same block returned different lengths",
				Block:       name,
				Repairable:  false,
			})
			continue
		}
		for i := range first {
			if first[i] != second[i] {
				report.addIssue(Issue{
					Type:        IssueBlockInconsistent,
					Description: "two independent reads of the same block disagree",
					Block:       name,
					Repairable:  false,
				})
				break
			}
		}
	}
	return nil
}
