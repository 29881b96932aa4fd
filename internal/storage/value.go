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

package storage

import (
	"fmt"
	"strconv"
	"time"

	scdberrors "scdb/internal/errors"
)

// Kind is the logical type tag carried by every Value, replacing the
// string-typed column names the engine used to pass around raw cell text.
type Kind int

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindDecimal
	KindText
	KindBlob
	KindDateTime
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInt64:
		return "INT64"
	case KindFloat64:
		return "FLOAT64"
	case KindDecimal:
		return "DECIMAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	case KindDateTime:
		return "DATETIME"
	case KindBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// Value is a single typed cell. Exactly one field is meaningful, selected
// by Kind; the rest are zero. A Value is small enough to pass by value.
type Value struct {
	Kind Kind

	I   int64
	F   float64
	Dec string // decimal values keep their canonical text form to avoid float rounding
	S   string
	B   []byte
	T   time.Time
	Bln bool
}

// NullValue is the shared representation of SQL NULL.
var NullValue = Value{Kind: KindNull}

func IntValue(v int64) Value      { return Value{Kind: KindInt64, I: v} }
func FloatValue(v float64) Value  { return Value{Kind: KindFloat64, F: v} }
func DecimalValue(v string) Value { return Value{Kind: KindDecimal, Dec: v} }
func TextValue(v string) Value    { return Value{Kind: KindText, S: v} }
func BlobValue(v []byte) Value    { return Value{Kind: KindBlob, B: v} }
func TimeValue(v time.Time) Value { return Value{Kind: KindDateTime, T: v} }
func BoolValue(v bool) Value      { return Value{Kind: KindBool, Bln: v} }

// IsNull reports whether v represents SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Column describes one table column: its name, logical kind, nullability,
// and — for TEXT columns — the collation its values compare and sort
// under.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
	Collation CollationSpec
}

// ValidateValue checks that v is well-formed for col, independent of
// whether col permits NULL (callers enforce NOT NULL separately, since
// that check needs schema context this function doesn't have).
func ValidateValue(col Column, v Value) error {
	if v.IsNull() {
		return nil
	}
	if v.Kind != col.Kind {
		return scdberrors.InvariantViolation("column %q: expected %s, got %s", col.Name, col.Kind, v.Kind)
	}
	switch v.Kind {
	case KindDecimal:
		if _, err := strconv.ParseFloat(v.Dec, 64); err != nil {
			return scdberrors.InvariantViolation("column %q: invalid decimal %q", col.Name, v.Dec)
		}
	}
	return nil
}

// CompareValues orders two values of the same Kind. TEXT values compare
// under col's collation; every other Kind has one natural order. Comparing
// across differing non-null Kinds is an invariant violation the query
// layer should never trigger (type-checking happens earlier).
func CompareValues(col Column, a, b Value) (int, error) {
	if a.IsNull() || b.IsNull() {
		return compareNullable(a, b), nil
	}
	if a.Kind != b.Kind {
		return 0, scdberrors.InvariantViolation("cannot compare %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case KindInt64:
		return cmpInt64(a.I, b.I), nil
	case KindFloat64:
		return cmpFloat64(a.F, b.F), nil
	case KindDecimal:
		af, _ := strconv.ParseFloat(a.Dec, 64)
		bf, _ := strconv.ParseFloat(b.Dec, 64)
		return cmpFloat64(af, bf), nil
	case KindText:
		coll, err := Resolve(col.Collation)
		if err != nil {
			return 0, err
		}
		return coll.Compare(a.S, b.S), nil
	case KindBlob:
		return cmpBytes(a.B, b.B), nil
	case KindDateTime:
		switch {
		case a.T.Before(b.T):
			return -1, nil
		case a.T.After(b.T):
			return 1, nil
		default:
			return 0, nil
		}
	case KindBool:
		return cmpBool(a.Bln, b.Bln), nil
	default:
		return 0, scdberrors.InvariantViolation("cannot compare values of kind %s", a.Kind)
	}
}

// compareNullable orders NULL before every non-null value, treating two
// NULLs as equal (SQL's ORDER BY semantics, not its three-valued-logic
// equality semantics — callers needing the latter check IsNull directly).
func compareNullable(a, b Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	return 1
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// String renders v for logging and error messages only — never for
// on-disk encoding.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt64:
		return strconv.FormatInt(v.I, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case KindDecimal:
		return v.Dec
	case KindText:
		return v.S
	case KindBlob:
		return fmt.Sprintf("<%d bytes>", len(v.B))
	case KindDateTime:
		return v.T.Format(time.RFC3339)
	case KindBool:
		return strconv.FormatBool(v.Bln)
	default:
		return "?"
	}
}
