// elThesaurus: a high-performance tool for building genome repeat thesauri.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elthesaurus/blob/master/LICENSE.txt>.

package align

import (
	"math/rand"
	"testing"
)

func randomSequence(r *rand.Rand, length int, nFraction int) []byte {
	seq := make([]byte, length)
	for i := range seq {
		if nFraction > 0 && r.Intn(nFraction) == 0 {
			seq[i] = 'N'
		} else {
			seq[i] = baseLetters[r.Intn(4)]
		}
	}
	return seq
}

func positionIndexed(idx *EarIndex, code, pos int32) bool {
	for _, p := range idx.PositionsFor(code) {
		if p == pos {
			return true
		}
	}
	return false
}

func TestEarIndexCompleteness(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	seq := randomSequence(r, 2000, 40)
	idx := NewEarIndex(seq, 5)
	if (idx.EarLength() != 5) || (len(idx.Seq()) != len(seq)) {
		t.Error("ear index accessors failed")
	}
	indexed := 0
	for p := 0; p+5 <= len(seq); p++ {
		ambiguous := false
		for _, base := range seq[p : p+5] {
			if base == 'N' {
				ambiguous = true
			}
		}
		code, ok := idx.Code(seq, p, p+5)
		if ambiguous {
			if ok {
				t.Error("code of an ambiguous ear failed")
			}
			continue
		}
		if !ok {
			t.Error("code of an unambiguous ear failed")
			continue
		}
		indexed++
		if !positionIndexed(idx, code, int32(p)) {
			t.Error("ear index completeness failed")
		}
	}
	if len(idx.positions) != indexed {
		t.Error("ear index size failed")
	}
}

func TestEarIndexPositionOrder(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	idx := NewEarIndex(randomSequence(r, 5000, 0), 5)
	for code := int32(0); code < 1024; code++ {
		positions := idx.PositionsFor(code)
		for i := 1; i < len(positions); i++ {
			if positions[i-1] >= positions[i] {
				t.Error("ear index position order failed")
			}
		}
	}
}

func TestCodeBijection(t *testing.T) {
	const earLength = 5
	idx := NewEarIndex(nil, earLength)
	seen := make(map[string]bool)
	for code := int32(0); code < 1<<(2*earLength); code++ {
		ear := Decode(code, earLength)
		if seen[string(ear)] {
			t.Error("ear decode uniqueness failed")
		}
		seen[string(ear)] = true
		if back, ok := idx.Code(ear, 0, earLength); !ok || back != code {
			t.Error("ear code round trip failed")
		}
	}
}

func TestCodeSpans(t *testing.T) {
	idx := NewEarIndex([]byte("ACGTACGTACGT"), 5)
	if _, ok := idx.Code([]byte("ACGTAC"), 0, 6); ok {
		t.Error("code of an overlong span failed")
	}
	if _, ok := idx.Code([]byte("ACNTA"), 0, 5); ok {
		t.Error("code of an ambiguous span failed")
	}
	if code, ok := idx.Code([]byte("AAAAA"), 0, 5); !ok || code != 0 {
		t.Error("code of the all A ear failed")
	}
}
