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

// Package thesaurus implements the genome repeat thesaurus: a table of
// near-duplicate genomic intervals discovered by aligning a genome
// against itself, and the two-pass algorithm that builds the table from
// raw alignment records.
package thesaurus

import (
	"github.com/exascience/elthesaurus/fasta"
)

// An Anchor records one substitution between the align and the origin
// interval of an entry. Positions are 1-based. The ref bases are the
// reference bases at the two positions; the alt bases are the bases
// each interval claims for the other one, so on the '-' strand the alt
// bases are complemented.
type Anchor struct {
	AlignPos  int32
	OriginPos int32
	AlignRef  byte
	AlignAlt  byte
	OriginRef byte
	OriginAlt byte
}

// An Entry links two similar intervals of a genome: an origin interval
// and the align interval it resembles, with the substitutions between
// them recorded as anchors. Intervals are 1-based and inclusive and
// always have the same length. Strand is '+' when the intervals are
// similar as written, and '-' when the origin interval resembles the
// reverse complement of the align interval.
//
// Anchors are sorted by ascending align position and pairwise unique.
// On the '+' strand, align position alignStart+k corresponds to origin
// position originStart+k; on the '-' strand, to originEnd-k.
type Entry struct {
	AlignChrom  string
	AlignStart  int32
	AlignEnd    int32
	OriginChrom string
	OriginStart int32
	OriginEnd   int32
	Strand      byte
	Anchors     []Anchor
}

// Penalty returns the number of substitutions between the align and
// the origin interval of the entry.
func (entry *Entry) Penalty() int {
	return len(entry.Anchors)
}

// IsTrivial tells whether the entry links an interval to itself
// exactly. Trivial entries are never retained in a thesaurus.
func (entry *Entry) IsTrivial() bool {
	return entry.Strand == '+' &&
		entry.AlignChrom == entry.OriginChrom &&
		entry.AlignStart == entry.OriginStart &&
		entry.AlignEnd == entry.OriginEnd
}

// Equal compares two entries field by field, including the anchors.
func (entry *Entry) Equal(other *Entry) bool {
	if entry.AlignChrom != other.AlignChrom ||
		entry.AlignStart != other.AlignStart ||
		entry.AlignEnd != other.AlignEnd ||
		entry.OriginChrom != other.OriginChrom ||
		entry.OriginStart != other.OriginStart ||
		entry.OriginEnd != other.OriginEnd ||
		entry.Strand != other.Strand ||
		len(entry.Anchors) != len(other.Anchors) {
		return false
	}
	for i, anchor := range entry.Anchors {
		if anchor != other.Anchors[i] {
			return false
		}
	}
	return true
}

// The phase of an entry is the positional offset between its align and
// origin interval, invariant under merging and extension. Two entries
// can only describe the same underlying repeat if their phases are
// equal.
func (entry *Entry) phase() int32 {
	if entry.Strand == '+' {
		return entry.AlignStart - entry.OriginStart
	}
	return entry.AlignEnd + entry.OriginStart
}

// Orient swaps the align and the origin side of the entry if the
// origin interval comes first in genome order, so that entries that
// describe the same repeat from either end become identical. The rank
// map assigns every chromosome its position in the genome order.
func (entry *Entry) Orient(rank map[string]int) {
	alignRank := rank[entry.AlignChrom]
	originRank := rank[entry.OriginChrom]
	if alignRank < originRank {
		return
	}
	if alignRank == originRank && entry.AlignStart <= entry.OriginStart {
		return
	}
	entry.AlignChrom, entry.OriginChrom = entry.OriginChrom, entry.AlignChrom
	entry.AlignStart, entry.OriginStart = entry.OriginStart, entry.AlignStart
	entry.AlignEnd, entry.OriginEnd = entry.OriginEnd, entry.AlignEnd
	for i := range entry.Anchors {
		anchor := &entry.Anchors[i]
		anchor.AlignPos, anchor.OriginPos = anchor.OriginPos, anchor.AlignPos
		anchor.AlignRef, anchor.OriginRef = anchor.OriginRef, anchor.AlignRef
		anchor.AlignAlt, anchor.OriginAlt = anchor.OriginAlt, anchor.AlignAlt
	}
	if entry.Strand == '-' {
		for i, j := 0, len(entry.Anchors)-1; i < j; i, j = i+1, j-1 {
			entry.Anchors[i], entry.Anchors[j] = entry.Anchors[j], entry.Anchors[i]
		}
	}
}

func mergeAnchors(anchors1, anchors2 []Anchor) []Anchor {
	if len(anchors2) == 0 {
		return anchors1
	}
	if len(anchors1) == 0 {
		return append([]Anchor(nil), anchors2...)
	}
	merged := make([]Anchor, 0, len(anchors1)+len(anchors2))
	i, j := 0, 0
	for i < len(anchors1) && j < len(anchors2) {
		switch {
		case anchors1[i].AlignPos < anchors2[j].AlignPos:
			merged = append(merged, anchors1[i])
			i++
		case anchors2[j].AlignPos < anchors1[i].AlignPos:
			merged = append(merged, anchors2[j])
			j++
		default:
			// Phase-compatible entries record identical anchors at
			// identical positions.
			merged = append(merged, anchors1[i])
			i++
			j++
		}
	}
	merged = append(merged, anchors1[i:]...)
	return append(merged, anchors2[j:]...)
}

// MergeWith absorbs other into entry if both describe overlapping
// stretches of the same underlying repeat: same strand, same
// chromosomes, overlapping align intervals, overlapping origin
// intervals, and equal phase. On success the entry's intervals are
// widened to the union and the anchors of both entries are combined,
// and MergeWith returns true. Otherwise the entry is left unchanged.
// A merge that would produce intervals of unequal lengths, or an entry
// that links an interval to itself, is rejected as well.
func (entry *Entry) MergeWith(other *Entry) bool {
	if entry.Strand != other.Strand ||
		entry.AlignChrom != other.AlignChrom ||
		entry.OriginChrom != other.OriginChrom {
		return false
	}
	if entry.AlignStart > other.AlignEnd || other.AlignStart > entry.AlignEnd {
		return false
	}
	if entry.OriginStart > other.OriginEnd || other.OriginStart > entry.OriginEnd {
		return false
	}
	if entry.phase() != other.phase() {
		return false
	}
	alignStart := entry.AlignStart
	if other.AlignStart < alignStart {
		alignStart = other.AlignStart
	}
	alignEnd := entry.AlignEnd
	if other.AlignEnd > alignEnd {
		alignEnd = other.AlignEnd
	}
	originStart := entry.OriginStart
	if other.OriginStart < originStart {
		originStart = other.OriginStart
	}
	originEnd := entry.OriginEnd
	if other.OriginEnd > originEnd {
		originEnd = other.OriginEnd
	}
	if alignEnd-alignStart != originEnd-originStart {
		return false
	}
	if entry.Strand == '+' &&
		entry.AlignChrom == entry.OriginChrom &&
		alignStart == originStart &&
		alignEnd == originEnd {
		return false
	}
	entry.AlignStart = alignStart
	entry.AlignEnd = alignEnd
	entry.OriginStart = originStart
	entry.OriginEnd = originEnd
	entry.Anchors = mergeAnchors(entry.Anchors, other.Anchors)
	return true
}

func (entry *Entry) leftEdgeRun() int {
	run := 0
	for i := 0; i < len(entry.Anchors); i++ {
		if entry.Anchors[i].AlignPos != entry.AlignStart+int32(i) {
			break
		}
		run++
	}
	return run
}

func (entry *Entry) rightEdgeRun() int {
	run := 0
	for i := len(entry.Anchors) - 1; i >= 0; i-- {
		if entry.Anchors[i].AlignPos != entry.AlignEnd-int32(len(entry.Anchors)-1-i) {
			break
		}
		run++
	}
	return run
}

// ExtendLeft greedily grows the align interval of the entry to the
// left, and the origin interval along with it, comparing reference
// bases one position at a time. A matching pair of bases always
// advances the boundary. A mismatching pair advances it too, recording
// a new anchor, but only while the penalty stays within errorRate of
// the interval length and at most maxRun-1 consecutive anchors sit at
// the interval edge. Extension stops at an ambiguous base, at position
// minAlignStart on the align side, and at the chromosome boundaries.
//
// Extension is idempotent: calling ExtendLeft again on a stopped entry
// does not move the boundary any further.
func (entry *Entry) ExtendLeft(genome fasta.Genome, errorRate float64, maxRun int, minAlignStart int32) {
	alignSeq := genome.Seq(entry.AlignChrom)
	originSeq := genome.Seq(entry.OriginChrom)
	run := entry.leftEdgeRun()
	for {
		a := entry.AlignStart - 1
		if a < minAlignStart || a < 1 {
			return
		}
		var o int32
		if entry.Strand == '+' {
			o = entry.OriginStart - 1
			if o < 1 {
				return
			}
		} else {
			o = entry.OriginEnd + 1
			if o > int32(len(originSeq)) {
				return
			}
		}
		alignBase := alignSeq[a-1]
		originRef := originSeq[o-1]
		originBase := originRef
		if entry.Strand == '-' {
			originBase = fasta.Complement(originRef)
		}
		if alignBase == 'N' || originRef == 'N' {
			return
		}
		if alignBase == originBase {
			run = 0
		} else {
			length := entry.AlignEnd - a + 1
			if run+1 >= maxRun || float64(len(entry.Anchors)+1) > errorRate*float64(length) {
				return
			}
			run++
			anchor := Anchor{
				AlignPos:  a,
				OriginPos: o,
				AlignRef:  alignBase,
				AlignAlt:  originBase,
				OriginRef: originRef,
				OriginAlt: alignBase,
			}
			if entry.Strand == '-' {
				anchor.OriginAlt = fasta.Complement(alignBase)
			}
			entry.Anchors = append(entry.Anchors, Anchor{})
			copy(entry.Anchors[1:], entry.Anchors)
			entry.Anchors[0] = anchor
		}
		entry.AlignStart = a
		if entry.Strand == '+' {
			entry.OriginStart = o
		} else {
			entry.OriginEnd = o
		}
	}
}

// ExtendRight is the mirror image of ExtendLeft: it grows the align
// interval of the entry to the right, up to the end of the align
// chromosome, under the same error rate and edge run limits.
func (entry *Entry) ExtendRight(genome fasta.Genome, errorRate float64, maxRun int) {
	alignSeq := genome.Seq(entry.AlignChrom)
	originSeq := genome.Seq(entry.OriginChrom)
	run := entry.rightEdgeRun()
	for {
		a := entry.AlignEnd + 1
		if a > int32(len(alignSeq)) {
			return
		}
		var o int32
		if entry.Strand == '+' {
			o = entry.OriginEnd + 1
			if o > int32(len(originSeq)) {
				return
			}
		} else {
			o = entry.OriginStart - 1
			if o < 1 {
				return
			}
		}
		alignBase := alignSeq[a-1]
		originRef := originSeq[o-1]
		originBase := originRef
		if entry.Strand == '-' {
			originBase = fasta.Complement(originRef)
		}
		if alignBase == 'N' || originRef == 'N' {
			return
		}
		if alignBase == originBase {
			run = 0
		} else {
			length := a - entry.AlignStart + 1
			if run+1 >= maxRun || float64(len(entry.Anchors)+1) > errorRate*float64(length) {
				return
			}
			run++
			anchor := Anchor{
				AlignPos:  a,
				OriginPos: o,
				AlignRef:  alignBase,
				AlignAlt:  originBase,
				OriginRef: originRef,
				OriginAlt: alignBase,
			}
			if entry.Strand == '-' {
				anchor.OriginAlt = fasta.Complement(alignBase)
			}
			entry.Anchors = append(entry.Anchors, anchor)
		}
		entry.AlignEnd = a
		if entry.Strand == '+' {
			entry.OriginEnd = o
		} else {
			entry.OriginStart = o
		}
	}
}
