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
	"encoding/binary"
	"math"
	"time"

	scdberrors "scdb/internal/errors"
)

func timeFromUnixNano(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// EncodeRow frames values as the flat byte record a StorageEngine stores
// under one Ref: a column count followed by each value's own Kind tag and
// type-specific payload, little-endian throughout — the same manual
// framing convention internal/wal's record.go and internal/container's
// block registry use in place of a reflection-based codec. The Kind tag is
// read off the value itself, not its column's declared Kind, so a NULL in
// a NOT NULL-eligible column round-trips correctly.
func EncodeRow(values []Value) []byte {
	// Pass 1: size the buffer.
	size := 4
	for _, v := range values {
		size += 1 + valuePayloadSize(v)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(values)))
	off := 4
	for _, v := range values {
		buf[off] = byte(v.Kind)
		off++
		off += writeValuePayload(buf[off:], v)
	}
	return buf
}

func valuePayloadSize(v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInt64, KindFloat64, KindDateTime:
		return 8
	case KindBool:
		return 1
	case KindDecimal:
		return 2 + len(v.Dec)
	case KindText:
		return 4 + len(v.S)
	case KindBlob:
		return 4 + len(v.B)
	default:
		return 0
	}
}

func writeValuePayload(buf []byte, v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInt64:
		binary.LittleEndian.PutUint64(buf[0:8], uint64(v.I))
		return 8
	case KindFloat64:
		binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(v.F))
		return 8
	case KindDateTime:
		binary.LittleEndian.PutUint64(buf[0:8], uint64(v.T.UnixNano()))
		return 8
	case KindBool:
		if v.Bln {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
		return 1
	case KindDecimal:
		binary.LittleEndian.PutUint16(buf[0:2], uint16(len(v.Dec)))
		copy(buf[2:], v.Dec)
		return 2 + len(v.Dec)
	case KindText:
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.S)))
		copy(buf[4:], v.S)
		return 4 + len(v.S)
	case KindBlob:
		binary.LittleEndian.PutUint32(buf[0:4], uint32(len(v.B)))
		copy(buf[4:], v.B)
		return 4 + len(v.B)
	default:
		return 0
	}
}

// DecodeRow parses a record EncodeRow produced.
func DecodeRow(data []byte) ([]Value, error) {
	if len(data) < 4 {
		return nil, scdberrors.Corruption("row: record truncated before column count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4
	values := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		if off >= len(data) {
			return nil, scdberrors.Corruption("row: record truncated before value %d's kind tag", i)
		}
		kind := Kind(data[off])
		off++
		v, n, err := readValuePayload(kind, data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		values = append(values, v)
	}
	return values, nil
}

func readValuePayload(kind Kind, buf []byte) (Value, int, error) {
	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, 0, nil
	case KindInt64:
		if len(buf) < 8 {
			return Value{}, 0, scdberrors.Corruption("row: truncated int64 payload")
		}
		return IntValue(int64(binary.LittleEndian.Uint64(buf[0:8]))), 8, nil
	case KindFloat64:
		if len(buf) < 8 {
			return Value{}, 0, scdberrors.Corruption("row: truncated float64 payload")
		}
		return FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))), 8, nil
	case KindDateTime:
		if len(buf) < 8 {
			return Value{}, 0, scdberrors.Corruption("row: truncated datetime payload")
		}
		return Value{Kind: KindDateTime, T: timeFromUnixNano(int64(binary.LittleEndian.Uint64(buf[0:8])))}, 8, nil
	case KindBool:
		if len(buf) < 1 {
			return Value{}, 0, scdberrors.Corruption("row: truncated bool payload")
		}
		return BoolValue(buf[0] != 0), 1, nil
	case KindDecimal:
		if len(buf) < 2 {
			return Value{}, 0, scdberrors.Corruption("row: truncated decimal length")
		}
		n := int(binary.LittleEndian.Uint16(buf[0:2]))
		if len(buf) < 2+n {
			return Value{}, 0, scdberrors.Corruption("row: truncated decimal payload")
		}
		return DecimalValue(string(buf[2 : 2+n])), 2 + n, nil
	case KindText:
		if len(buf) < 4 {
			return Value{}, 0, scdberrors.Corruption("row: truncated text length")
		}
		n := int(binary.LittleEndian.Uint32(buf[0:4]))
		if len(buf) < 4+n {
			return Value{}, 0, scdberrors.Corruption("row: truncated text payload")
		}
		return TextValue(string(buf[4 : 4+n])), 4 + n, nil
	case KindBlob:
		if len(buf) < 4 {
			return Value{}, 0, scdberrors.Corruption("row: truncated blob length")
		}
		n := int(binary.LittleEndian.Uint32(buf[0:4]))
		if len(buf) < 4+n {
			return Value{}, 0, scdberrors.Corruption("row: truncated blob payload")
		}
		out := make([]byte, n)
		copy(out, buf[4:4+n])
		return BlobValue(out), 4 + n, nil
	default:
		return Value{}, 0, scdberrors.Corruption("row: unknown value kind tag %d", kind)
	}
}
