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

import "testing"

func TestValidateValueRejectsWrongKind(t *testing.T) {
	col := Column{Name: "age", Kind: KindInt64}
	if err := ValidateValue(col, TextValue("not-an-int")); err == nil {
		t.Fatal("expected an error for a TEXT value in an INT64 column")
	}
	if err := ValidateValue(col, IntValue(42)); err != nil {
		t.Fatalf("expected no error for a matching kind, got %v", err)
	}
	if err := ValidateValue(col, NullValue); err != nil {
		t.Fatalf("NULL must validate against any column: %v", err)
	}
}

func TestValidateValueRejectsMalformedDecimal(t *testing.T) {
	col := Column{Name: "price", Kind: KindDecimal}
	if err := ValidateValue(col, DecimalValue("not-a-number")); err == nil {
		t.Fatal("expected an error for a malformed decimal")
	}
	if err := ValidateValue(col, DecimalValue("19.99")); err != nil {
		t.Fatalf("expected no error for a valid decimal, got %v", err)
	}
}

func TestCompareValuesNullOrdering(t *testing.T) {
	col := Column{Name: "x", Kind: KindInt64}
	cmp, err := CompareValues(col, NullValue, IntValue(1))
	if err != nil {
		t.Fatalf("CompareValues: %v", err)
	}
	if cmp != -1 {
		t.Fatalf("expected NULL to sort before a non-null value, got %d", cmp)
	}
	cmp, _ = CompareValues(col, NullValue, NullValue)
	if cmp != 0 {
		t.Fatalf("expected two NULLs to compare equal, got %d", cmp)
	}
}

func TestCompareValuesInt64(t *testing.T) {
	col := Column{Name: "x", Kind: KindInt64}
	cmp, err := CompareValues(col, IntValue(1), IntValue(2))
	if err != nil || cmp != -1 {
		t.Fatalf("got cmp=%d err=%v, want -1", cmp, err)
	}
}

func TestCompareValuesTextUsesColumnCollation(t *testing.T) {
	col := Column{Name: "name", Kind: KindText, Collation: CollationSpec{Kind: CollationNoCase}}
	cmp, err := CompareValues(col, TextValue("Alice"), TextValue("alice"))
	if err != nil {
		t.Fatalf("CompareValues: %v", err)
	}
	if cmp != 0 {
		t.Fatalf("expected NoCase collation to treat Alice == alice, got cmp=%d", cmp)
	}
}

func TestCompareValuesMismatchedKindIsError(t *testing.T) {
	col := Column{Name: "x", Kind: KindInt64}
	if _, err := CompareValues(col, IntValue(1), TextValue("1")); err == nil {
		t.Fatal("expected an error comparing mismatched kinds")
	}
}
