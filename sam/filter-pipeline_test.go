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

package sam

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/exascience/elthesaurus/utils"
)

func makeAln(qname string, flag uint16, mapq byte) *Alignment {
	aln := NewAlignment()
	aln.QNAME = qname
	aln.FLAG = flag
	aln.RNAME = "chr1"
	aln.POS = 100
	aln.MAPQ = mapq
	aln.CIGAR = "10M"
	aln.RNEXT = "*"
	aln.SEQ = "ACGTACGTAC"
	aln.QUAL = "*"
	return aln
}

func qnames(alns []*Alignment) (names []string) {
	for _, aln := range alns {
		names = append(names, aln.QNAME)
	}
	return names
}

func namesEqual(names1, names2 []string) bool {
	if len(names1) != len(names2) {
		return false
	}
	for i, name := range names1 {
		if name != names2[i] {
			return false
		}
	}
	return true
}

func TestComposeFilters(t *testing.T) {
	header := NewHeader()
	if ComposeFilters(header, nil) != nil {
		t.Error("ComposeFilters 1 failed")
	}
	if ComposeFilters(header, []Filter{nil, FilterMappingQuality(0)}) != nil {
		t.Error("ComposeFilters 2 failed")
	}
	receiver := ComposeFilters(header, []Filter{FilterUnmappedReads, FilterMappingQuality(10)})
	if receiver == nil {
		t.Fatal("ComposeFilters 3 failed")
	}
	alns := []*Alignment{
		makeAln("r1", 0, 20),
		makeAln("r2", Unmapped, 20),
		makeAln("r3", 0, 5),
		makeAln("r4", 0, 15),
	}
	kept := receiver(0, alns).([]*Alignment)
	if !namesEqual(qnames(kept), []string{"r1", "r4"}) {
		t.Error("ComposeFilters 4 failed")
	}
}

func TestFilterUnmappedReadsStrict(t *testing.T) {
	plain := FilterUnmappedReads(nil)
	strict := FilterUnmappedReadsStrict(nil)
	mapped := makeAln("m1", 0, 60)
	flagged := makeAln("m2", Unmapped, 60)
	noPos := makeAln("m3", 0, 60)
	noPos.POS = 0
	noName := makeAln("m4", 0, 60)
	noName.RNAME = "*"
	if !plain(mapped) || !strict(mapped) {
		t.Error("FilterUnmappedReadsStrict 1 failed")
	}
	if plain(flagged) || strict(flagged) {
		t.Error("FilterUnmappedReadsStrict 2 failed")
	}
	if !plain(noPos) || strict(noPos) {
		t.Error("FilterUnmappedReadsStrict 3 failed")
	}
	if !plain(noName) || strict(noName) {
		t.Error("FilterUnmappedReadsStrict 4 failed")
	}
}

func TestSamRunPipeline(t *testing.T) {
	in := NewSam()
	in.Header.SetHDSO(Coordinate)
	in.Header.SQ = append(in.Header.SQ, utils.StringMap{"SN": "chr1", "LN": "1000"})
	in.Alignments = []*Alignment{
		makeAln("r1", 0, 60),
		makeAln("r2", Duplicate, 60),
		makeAln("r3", 0, 3),
		makeAln("r4", Reversed, 60),
		makeAln("r5", 0, 60),
	}
	in.NofBatches(2)
	out := NewSam()
	err := in.RunPipeline(out, []Filter{FilterDuplicateReads, FilterMappingQuality(10)}, Keep)
	if err != nil {
		t.Fatal(err)
	}
	if !namesEqual(qnames(out.Alignments), []string{"r1", "r4", "r5"}) {
		t.Error("SamRunPipeline alignments failed")
	}
	if out.Header.HDSO() != Coordinate {
		t.Error("SamRunPipeline sorting order failed")
	}
	if len(out.Header.SQ) != 1 || out.Header.SQ[0]["SN"] != "chr1" {
		t.Error("SamRunPipeline header failed")
	}
	if (in.Alignments != nil) || (in.Header.HD != nil) {
		t.Error("SamRunPipeline input reset failed")
	}
}

const testSamText = "@HD\tVN:1.6\tSO:coordinate\n" +
	"@SQ\tSN:chr1\tLN:1000\n" +
	"r1\t0\tchr1\t101\t60\t10M\t*\t0\t0\tAAAACCCCGG\tIIIIIIIIII\tNM:i:0\n" +
	"this line is not a valid alignment\n" +
	"r2\t16\tchr1\t201\t55\t10M\t*\t0\t0\tGGGGTTTTAA\tIIIIIIIIII\tNM:i:1\n" +
	"r3\t4\t*\t0\t0\t*\t*\t0\t0\t*\t*\n"

func TestFilePipeline(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "reads.sam")
	if err := os.WriteFile(inPath, []byte(testSamText), 0666); err != nil {
		t.Fatal(err)
	}

	input := Open(inPath)
	contents := NewSam()
	if err := input.RunPipeline(contents, nil, Keep); err != nil {
		t.Fatal(err)
	}
	if input.Skipped() != 1 {
		t.Error("FilePipeline skipped count failed")
	}
	input.Close()
	if !namesEqual(qnames(contents.Alignments), []string{"r1", "r2", "r3"}) {
		t.Fatal("FilePipeline input alignments failed")
	}
	if contents.Header.HDSO() != Coordinate {
		t.Error("FilePipeline input header failed")
	}

	outPath := filepath.Join(dir, "filtered.sam.gz")
	output := Create(outPath)
	if err := contents.RunPipeline(output, []Filter{FilterUnmappedReads}, Keep); err != nil {
		t.Fatal(err)
	}
	output.Close()

	reopened := Open(outPath)
	roundTrip := NewSam()
	if err := reopened.RunPipeline(roundTrip, nil, Keep); err != nil {
		t.Fatal(err)
	}
	reopened.Close()
	if !namesEqual(qnames(roundTrip.Alignments), []string{"r1", "r2"}) {
		t.Fatal("FilePipeline round trip alignments failed")
	}
	if roundTrip.Header.HDSO() != Coordinate {
		t.Error("FilePipeline round trip header failed")
	}
	if len(roundTrip.Header.SQ) != 1 || roundTrip.Header.SQ[0]["SN"] != "chr1" {
		t.Error("FilePipeline round trip SQ failed")
	}
	r2 := roundTrip.Alignments[1]
	if (r2.POS != 201) || !r2.IsReversed() {
		t.Error("FilePipeline round trip fields failed")
	}
	if nm, ok := r2.EditDistance(); !ok || (nm != 1) {
		t.Error("FilePipeline round trip NM failed")
	}

	raw := Open(inPath)
	raw.SkipHeader()
	if fetched := raw.Fetch(2); fetched != 2 {
		t.Fatalf("Fetch after SkipHeader returned %v lines", fetched)
	}
	lines := raw.Data().([][]byte)
	aln, err := raw.ParseAlignment(lines[0])
	if err != nil {
		t.Fatal(err)
	}
	if (aln.QNAME != "r1") || (aln.POS != 101) {
		t.Error("FilePipeline SkipHeader failed")
	}
	if _, err := raw.ParseAlignment(lines[1]); err == nil {
		t.Error("FilePipeline malformed alignment line failed")
	}
	raw.Close()
}
