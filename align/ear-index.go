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

// Package align builds ear indexes over chromosome sequences and aligns
// short reads against them with a fixed mismatch budget.
//
// An "ear" is a substring of fixed length (the ear length) taken from
// the very start or end of a read. Ears act as exact-match seeds: a read
// can only be placed at a position where both of its ears occur
// verbatim in the chromosome. Candidate positions are then verified
// base by base against the chromosome, counting substitutions.
package align

import (
	"log"
)

// MaxEarLength bounds the ear length so that the code table of an
// EarIndex stays tractable (4^earLength slots).
const MaxEarLength = 12

var baseValues [256]int8

var baseLetters = [4]byte{'A', 'T', 'C', 'G'}

func init() {
	for i := range baseValues {
		baseValues[i] = -1
	}
	for value, letter := range baseLetters {
		baseValues[letter] = int8(value)
	}
}

// An EarIndex maps every ear of one chromosome sequence to the sorted
// list of 0-based positions at which it occurs. Substrings that contain
// a base outside the A/C/G/T alphabet are not indexed. An EarIndex is
// read-only after construction and can be queried from multiple
// goroutines without synchronization.
type EarIndex struct {
	seq       []byte
	earLength int
	offsets   []int32
	positions []int32
}

func earCode(seq []byte, from, earLength int) (int32, bool) {
	var code int32
	for i := 0; i < earLength; i++ {
		value := baseValues[seq[from+i]]
		if value < 0 {
			return 0, false
		}
		code = code<<2 | int32(value)
	}
	return code, true
}

// NewEarIndex builds the ear index for a chromosome sequence. The
// sequence is scanned twice, once to count the occurrences per ear code
// and once to fill the position table, so the index is allocated at its
// final size. The index keeps a reference to seq.
func NewEarIndex(seq []byte, earLength int) *EarIndex {
	if earLength < 1 || earLength > MaxEarLength {
		log.Panicf("invalid ear length %v, must be between 1 and %v", earLength, MaxEarLength)
	}
	nofCodes := 1 << uint(2*earLength)
	offsets := make([]int32, nofCodes+1)
	for p := 0; p+earLength <= len(seq); p++ {
		if code, ok := earCode(seq, p, earLength); ok {
			offsets[code+1]++
		}
	}
	for code := 1; code <= nofCodes; code++ {
		offsets[code] += offsets[code-1]
	}
	positions := make([]int32, offsets[nofCodes])
	next := make([]int32, nofCodes)
	copy(next, offsets[:nofCodes])
	for p := 0; p+earLength <= len(seq); p++ {
		if code, ok := earCode(seq, p, earLength); ok {
			positions[next[code]] = int32(p)
			next[code]++
		}
	}
	return &EarIndex{
		seq:       seq,
		earLength: earLength,
		offsets:   offsets,
		positions: positions,
	}
}

// EarLength returns the ear length the index was built with.
func (idx *EarIndex) EarLength() int {
	return idx.earLength
}

// Seq returns the chromosome sequence the index was built over.
func (idx *EarIndex) Seq() []byte {
	return idx.seq
}

// Code computes the numeric code of the subsequence seq[from:to]. The
// second return value is false if the span is longer than the ear
// length or contains a base outside the A/C/G/T alphabet. Each possible
// ear maps to a unique code in [0, 4^earLength).
func (idx *EarIndex) Code(seq []byte, from, to int) (int32, bool) {
	if to-from > idx.earLength {
		return 0, false
	}
	return earCode(seq, from, to-from)
}

// PositionsFor returns the positions at which the ear with the given
// code occurs, in ascending order. The returned slice aliases the
// index and must not be modified.
func (idx *EarIndex) PositionsFor(code int32) []int32 {
	return idx.positions[idx.offsets[code]:idx.offsets[code+1]]
}

// Decode returns the base sequence whose code is the given value, the
// inverse of Code for spans of exactly the ear length.
func Decode(code int32, earLength int) []byte {
	seq := make([]byte, earLength)
	for i := earLength - 1; i >= 0; i-- {
		seq[i] = baseLetters[code&3]
		code >>= 2
	}
	return seq
}
