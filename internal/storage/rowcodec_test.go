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
	"testing"
	"time"
)

func TestEncodeDecodeRowRoundTripsEveryKind(t *testing.T) {
	now := time.Now().UTC().Round(time.Second)
	values := []Value{
		NullValue,
		IntValue(-42),
		FloatValue(3.5),
		DecimalValue("19.99"),
		TextValue("hello, row"),
		BlobValue([]byte{0x00, 0x01, 0xFF}),
		TimeValue(now),
		BoolValue(true),
	}

	encoded := EncodeRow(values)
	decoded, err := DecodeRow(encoded)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if len(decoded) != len(values) {
		t.Fatalf("decoded %d values, want %d", len(decoded), len(values))
	}
	for i, want := range values {
		got := decoded[i]
		if got.Kind != want.Kind {
			t.Fatalf("value %d: Kind = %s, want %s", i, got.Kind, want.Kind)
		}
		switch want.Kind {
		case KindInt64:
			if got.I != want.I {
				t.Fatalf("value %d: I = %d, want %d", i, got.I, want.I)
			}
		case KindFloat64:
			if got.F != want.F {
				t.Fatalf("value %d: F = %v, want %v", i, got.F, want.F)
			}
		case KindDecimal:
			if got.Dec != want.Dec {
				t.Fatalf("value %d: Dec = %q, want %q", i, got.Dec, want.Dec)
			}
		case KindText:
			if got.S != want.S {
				t.Fatalf("value %d: S = %q, want %q", i, got.S, want.S)
			}
		case KindBlob:
			if string(got.B) != string(want.B) {
				t.Fatalf("value %d: B = %v, want %v", i, got.B, want.B)
			}
		case KindDateTime:
			if !got.T.Equal(want.T) {
				t.Fatalf("value %d: T = %v, want %v", i, got.T, want.T)
			}
		case KindBool:
			if got.Bln != want.Bln {
				t.Fatalf("value %d: Bln = %v, want %v", i, got.Bln, want.Bln)
			}
		}
	}
}

func TestDecodeRowRejectsTruncatedRecord(t *testing.T) {
	encoded := EncodeRow([]Value{TextValue("abcdef")})
	if _, err := DecodeRow(encoded[:len(encoded)-3]); err == nil {
		t.Fatal("expected a truncated record to fail decoding")
	}
}

func TestDecodeRowRejectsEmptyBuffer(t *testing.T) {
	if _, err := DecodeRow(nil); err == nil {
		t.Fatal("expected an empty buffer to fail decoding")
	}
}
