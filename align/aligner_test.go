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

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/sam"
)

func findCandidate(candidates []Candidate, pos int32) (Candidate, bool) {
	for _, candidate := range candidates {
		if candidate.Pos == pos {
			return candidate, true
		}
	}
	return Candidate{}, false
}

func otherBase(base byte) byte {
	if base == 'A' {
		return 'C'
	}
	return 'A'
}

func TestCandidates(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	seq := randomSequence(r, 1000, 0)
	copy(seq[500:521], seq[100:121])
	aligner := NewAligner(NewEarIndex(seq, 5), "chr1", 5)
	if aligner.Chrom() != "chr1" {
		t.Error("aligner chromosome accessor failed")
	}
	read := append([]byte(nil), seq[100:121]...)
	candidates := aligner.Candidates(read)
	for i, candidate := range candidates {
		if candidate.Mismatches > 5 {
			t.Error("mismatch budget failed")
		}
		if i > 0 && candidates[i-1].Pos >= candidate.Pos {
			t.Error("candidate position order failed")
		}
	}
	if candidate, ok := findCandidate(candidates, 100); !ok || candidate.Mismatches != 0 {
		t.Error("candidate at the origin failed")
	}
	if candidate, ok := findCandidate(candidates, 500); !ok || candidate.Mismatches != 0 {
		t.Error("candidate at the duplicate failed")
	}
}

func TestCandidateMismatchCount(t *testing.T) {
	r := rand.New(rand.NewSource(18))
	seq := randomSequence(r, 1000, 0)
	copy(seq[500:521], seq[100:121])
	seq[510] = otherBase(seq[510])
	idx := NewEarIndex(seq, 5)
	read := append([]byte(nil), seq[100:121]...)
	candidates := NewAligner(idx, "chr1", 5).Candidates(read)
	if candidate, ok := findCandidate(candidates, 500); !ok || candidate.Mismatches != 1 {
		t.Error("exact mismatch count failed")
	}
	strict := NewAligner(idx, "chr1", 0).Candidates(read)
	if _, ok := findCandidate(strict, 100); !ok {
		t.Error("exact placement under a zero budget failed")
	}
	if _, ok := findCandidate(strict, 500); ok {
		t.Error("mismatch budget cutoff failed")
	}
}

func TestCandidatesAmbiguousEar(t *testing.T) {
	r := rand.New(rand.NewSource(19))
	seq := randomSequence(r, 1000, 0)
	aligner := NewAligner(NewEarIndex(seq, 5), "chr1", 5)
	read := append([]byte(nil), seq[100:121]...)
	read[2] = 'N'
	if aligner.Candidates(read) != nil {
		t.Error("ambiguous start ear failed")
	}
	read[2] = seq[102]
	read[19] = 'N'
	if aligner.Candidates(read) != nil {
		t.Error("ambiguous end ear failed")
	}
	if aligner.Candidates(read[:3]) != nil {
		t.Error("short read failed")
	}
}

func TestAlignRead(t *testing.T) {
	r := rand.New(rand.NewSource(20))
	seq := randomSequence(r, 1000, 0)
	copy(seq[600:621], fasta.ReverseComplement(seq[100:121]))
	aligner := NewAligner(NewEarIndex(seq, 5), "chr1", 5)
	read := fasta.Read{Name: "chr1:101-121", Seq: append([]byte(nil), seq[100:121]...)}
	alns := aligner.AlignRead(read)
	var forward, reverse *sam.Alignment
	for _, aln := range alns {
		if aln.QNAME != "chr1:101-121" || aln.RNAME != "chr1" {
			t.Error("alignment record naming failed")
		}
		if aln.CIGAR != "21M" {
			t.Error("alignment record CIGAR failed")
		}
		switch aln.POS {
		case 101:
			forward = aln
		case 601:
			reverse = aln
		}
	}
	if forward == nil || forward.FLAG != 0 || forward.SEQ != string(read.Seq) {
		t.Error("forward alignment record failed")
	}
	if reverse == nil || !reverse.IsReversed() {
		t.Error("reverse complement alignment record failed")
	}
	if reverse != nil && reverse.SEQ != string(fasta.ReverseComplement(read.Seq)) {
		t.Error("reverse complement record sequence failed")
	}
	for _, aln := range []*sam.Alignment{forward, reverse} {
		if aln == nil {
			continue
		}
		if nm, ok := aln.EditDistance(); !ok || nm != 0 {
			t.Error("alignment record edit distance failed")
		}
		if aln.MAPQ != 21 {
			t.Error("alignment record mapping quality failed")
		}
	}
}
