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
Collation Implementation
=========================

Collation defines how TEXT values are compared and sorted. Five rule sets
are supported:

  1. Binary (default): strict byte-wise comparison. Fastest, not
     locale-aware.
  2. NoCase: case-insensitive comparison via strings.EqualFold-equivalent
     folding.
  3. RTrim: trailing-whitespace-insensitive comparison — "abc" and "abc  "
     compare equal.
  4. UnicodeCaseInsensitive: Unicode case folding plus NFC normalization,
     locale-independent.
  5. Locale(tag): language.Tag-driven collation via golang.org/x/text/collate,
     for a specific BCP-47 locale (e.g. "de-DE", "sv").

A malformed or unknown locale tag (spec examples: "xx", "zz", "iv",
"invalid") is rejected at CREATE TABLE / index-build time rather than
silently falling back to a default, since a silent fallback would produce a
different sort order than the one the schema author asked for.
*/
package storage

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	scdberrors "scdb/internal/errors"
)

// CollationKind enumerates the supported rule sets.
type CollationKind int

const (
	CollationBinary CollationKind = iota
	CollationNoCase
	CollationRTrim
	CollationUnicodeCaseInsensitive
	CollationLocale
)

func (k CollationKind) String() string {
	switch k {
	case CollationBinary:
		return "Binary"
	case CollationNoCase:
		return "NoCase"
	case CollationRTrim:
		return "RTrim"
	case CollationUnicodeCaseInsensitive:
		return "UnicodeCaseInsensitive"
	case CollationLocale:
		return "Locale"
	default:
		return "Unknown"
	}
}

// CollationSpec names a column's collation. Tag is only meaningful when
// Kind is CollationLocale.
type CollationSpec struct {
	Kind CollationKind
	Tag  string
}

// Collator compares and tests equality of strings under one collation's
// rules.
type Collator interface {
	Compare(a, b string) int
	Equal(a, b string) bool
}

var (
	collatorCacheMu sync.RWMutex
	collatorCache   = map[string]Collator{}
)

// Resolve returns the Collator for spec, validating and memoizing Locale
// collators per tag so a repeatedly-probed index doesn't re-parse the same
// BCP-47 tag on every comparison.
func Resolve(spec CollationSpec) (Collator, error) {
	switch spec.Kind {
	case CollationBinary:
		return binaryCollator{}, nil
	case CollationNoCase:
		return nocaseCollator{}, nil
	case CollationRTrim:
		return rtrimCollator{}, nil
	case CollationUnicodeCaseInsensitive:
		return unicodeCICollator{}, nil
	case CollationLocale:
		return resolveLocale(spec.Tag)
	default:
		return nil, scdberrors.InvariantViolation("unknown collation kind %v", spec.Kind)
	}
}

// explicitlyInvalidParts names the per-part codes spec.md §4.4 calls out as
// explicit invalid indicators, rejected regardless of what language.Parse
// would otherwise accept for them.
var explicitlyInvalidParts = map[string]bool{"xx": true, "zz": true, "iv": true}

func isExplicitlyInvalidTag(tag string) bool {
	if strings.EqualFold(tag, "invalid") {
		return true
	}
	for _, part := range strings.FieldsFunc(tag, func(r rune) bool { return r == '-' || r == '_' }) {
		if explicitlyInvalidParts[strings.ToLower(part)] {
			return true
		}
	}
	return false
}

func resolveLocale(tag string) (Collator, error) {
	if isExplicitlyInvalidTag(tag) {
		return nil, scdberrors.UnknownLocale("locale tag %q is an explicit invalid indicator", tag)
	}

	key := "locale:" + tag
	collatorCacheMu.RLock()
	if c, ok := collatorCache[key]; ok {
		collatorCacheMu.RUnlock()
		return c, nil
	}
	collatorCacheMu.RUnlock()

	parsed, err := language.Parse(tag)
	if err != nil {
		return nil, scdberrors.UnknownLocale("locale tag %q: %v", tag, err)
	}
	if parsed == language.Und {
		return nil, scdberrors.UnknownLocale("locale tag %q resolves to the undetermined locale", tag)
	}

	c := &localeCollator{tag: tag, inner: collate.New(parsed, collate.Loose)}

	collatorCacheMu.Lock()
	collatorCache[key] = c
	collatorCacheMu.Unlock()
	return c, nil
}

type binaryCollator struct{}

func (binaryCollator) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
func (binaryCollator) Equal(a, b string) bool { return a == b }

type nocaseCollator struct{}

func (nocaseCollator) Compare(a, b string) int {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	default:
		return 0
	}
}
func (nocaseCollator) Equal(a, b string) bool { return strings.EqualFold(a, b) }

type rtrimCollator struct{}

func rtrim(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func (rtrimCollator) Compare(a, b string) int {
	at, bt := rtrim(a), rtrim(b)
	switch {
	case at < bt:
		return -1
	case at > bt:
		return 1
	default:
		return 0
	}
}
func (rtrimCollator) Equal(a, b string) bool { return rtrim(a) == rtrim(b) }

type unicodeCICollator struct{}

func foldNFC(s string) string {
	return norm.NFC.String(strings.ToLower(s))
}

func (unicodeCICollator) Compare(a, b string) int {
	af, bf := foldNFC(a), foldNFC(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}
func (unicodeCICollator) Equal(a, b string) bool { return foldNFC(a) == foldNFC(b) }

// localeCollator delegates to golang.org/x/text/collate for a specific
// BCP-47 tag.
type localeCollator struct {
	tag   string
	mu    sync.Mutex
	inner *collate.Collator
}

func (c *localeCollator) Compare(a, b string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.CompareString(a, b)
}

func (c *localeCollator) Equal(a, b string) bool {
	return c.Compare(a, b) == 0
}
