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
	"strconv"

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/sam"
	"github.com/exascience/pargo/parallel"
)

// A Candidate is one verified placement of a read on the chromosome the
// aligner's index was built over. Pos is 0-based. Mismatches is the
// exact number of substitutions between the read and the chromosome at
// that position, never more than the aligner's mismatch budget.
type Candidate struct {
	Pos        int32
	Mismatches int32
}

// An Aligner places reads on one chromosome. It reports all placements
// within the mismatch budget, not just the best one. Aligners are
// stateless apart from the index and can be shared by multiple
// goroutines.
type Aligner struct {
	index         *EarIndex
	chrom         string
	maxMismatches int32
}

// NewAligner returns an aligner that places reads on the chromosome
// with the given name using its ear index.
func NewAligner(index *EarIndex, chrom string, maxMismatches int) *Aligner {
	return &Aligner{
		index:         index,
		chrom:         chrom,
		maxMismatches: int32(maxMismatches),
	}
}

// Chrom returns the name of the chromosome the aligner places reads on.
func (a *Aligner) Chrom() string {
	return a.chrom
}

func (a *Aligner) verify(seq []byte, pos int32) (int32, bool) {
	ref := a.index.seq[pos : int(pos)+len(seq)]
	var mismatches int32
	for i := 0; i < len(seq); i++ {
		if seq[i] != ref[i] {
			if mismatches++; mismatches > a.maxMismatches {
				return 0, false
			}
		}
	}
	return mismatches, true
}

// Candidates returns all placements of seq on the chromosome, in
// ascending position order. A placement requires both ears of seq, its
// first and its last earLength bases, to occur verbatim in the
// chromosome at the right distance, and at most maxMismatches
// substitutions over the full length of seq. Sequences shorter than the
// ear length, or with an ambiguous base in either ear, have no
// placements.
func (a *Aligner) Candidates(seq []byte) []Candidate {
	earLength := a.index.earLength
	if len(seq) < earLength {
		return nil
	}
	startCode, ok := a.index.Code(seq, 0, earLength)
	if !ok {
		return nil
	}
	endCode, ok := a.index.Code(seq, len(seq)-earLength, len(seq))
	if !ok {
		return nil
	}
	starts := a.index.PositionsFor(startCode)
	ends := a.index.PositionsFor(endCode)
	shift := int32(len(seq) - earLength)
	var candidates []Candidate
	// Both position lists are sorted, so a single forward walk over
	// ends suffices.
	j := 0
	for _, start := range starts {
		want := start + shift
		for j < len(ends) && ends[j] < want {
			j++
		}
		if j == len(ends) {
			break
		}
		if ends[j] == want {
			if mismatches, ok := a.verify(seq, start); ok {
				candidates = append(candidates, Candidate{Pos: start, Mismatches: mismatches})
			}
		}
	}
	return candidates
}

func (a *Aligner) newAlignment(name string, seq []byte, candidate Candidate, reversed bool) *sam.Alignment {
	aln := sam.NewAlignment()
	aln.QNAME = name
	if reversed {
		aln.FLAG = sam.Reversed
	}
	aln.RNAME = a.chrom
	aln.POS = candidate.Pos + 1
	mq := int32(len(seq)) - candidate.Mismatches
	if mq > 254 {
		mq = 254
	}
	aln.MAPQ = byte(mq)
	aln.CIGAR = strconv.Itoa(len(seq)) + "M"
	aln.RNEXT = "*"
	aln.SEQ = string(seq)
	aln.QUAL = "*"
	aln.SetEditDistance(candidate.Mismatches)
	return aln
}

// AlignRead places a read on the chromosome in both orientations and
// returns one alignment record per placement. Records for reverse
// complement placements carry the reversed FLAG bit and store the read
// bases as aligned, so SEQ always matches the forward strand of the
// chromosome up to the recorded edit distance.
func (a *Aligner) AlignRead(read fasta.Read) []*sam.Alignment {
	var forward, reverse []Candidate
	rc := fasta.ReverseComplement(read.Seq)
	parallel.Do(
		func() { forward = a.Candidates(read.Seq) },
		func() { reverse = a.Candidates(rc) },
	)
	if len(forward) == 0 && len(reverse) == 0 {
		return nil
	}
	alns := make([]*sam.Alignment, 0, len(forward)+len(reverse))
	for _, candidate := range forward {
		alns = append(alns, a.newAlignment(read.Name, read.Seq, candidate, false))
	}
	for _, candidate := range reverse {
		alns = append(alns, a.newAlignment(read.Name, rc, candidate, true))
	}
	return alns
}
