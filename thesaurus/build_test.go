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

package thesaurus

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/exascience/elthesaurus/align"
	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/sam"
)

func TestParseReadOrigin(t *testing.T) {
	chrom, start, end, err := ParseReadOrigin("chr1:101-121")
	if err != nil {
		t.Errorf("ParseReadOrigin failed: %v", err)
	}
	if chrom != "chr1" || start != 101 || end != 121 {
		t.Errorf("ParseReadOrigin returned %v:%v-%v", chrom, start, end)
	}
	chrom, start, end, err = ParseReadOrigin("HLA:DRB1:7-9")
	if err != nil {
		t.Errorf("ParseReadOrigin failed on a chromosome name with colons: %v", err)
	}
	if chrom != "HLA:DRB1" || start != 7 || end != 9 {
		t.Errorf("ParseReadOrigin returned %v:%v-%v", chrom, start, end)
	}
	for _, name := range []string{"read1", "chr1:5", "chr1:5-", ":5-10", "chr1:0-10", "chr1:9-5", "chr1:x-10"} {
		if _, _, _, err := ParseReadOrigin(name); err == nil {
			t.Errorf("ParseReadOrigin accepted %v", name)
		}
	}
}

func TestSortEntries(t *testing.T) {
	a := &Entry{AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121, OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521, Strand: '+'}
	b := &Entry{AlignChrom: "chr1", AlignStart: 51, AlignEnd: 71, OriginChrom: "chr1", OriginStart: 451, OriginEnd: 471, Strand: '+'}
	c := &Entry{AlignChrom: "chr1", AlignStart: 11, AlignEnd: 31, OriginChrom: "chr1", OriginStart: 1, OriginEnd: 21, Strand: '-'}
	d := &Entry{AlignChrom: "chr1", AlignStart: 1, AlignEnd: 21, OriginChrom: "chr2", OriginStart: 1, OriginEnd: 21, Strand: '+'}

	entries := []*Entry{a, b, c, d}
	sortEntries(entries, offsetLess)
	for i, expected := range []*Entry{b, a, d, c} {
		if entries[i] != expected {
			t.Errorf("sorting by offset failed at %v: %v", i, entries[i])
		}
	}
	sortEntries(entries, alignLess)
	for i, expected := range []*Entry{d, c, b, a} {
		if entries[i] != expected {
			t.Errorf("sorting by align position failed at %v: %v", i, entries[i])
		}
	}
}

func otherBase(base byte) byte {
	switch base {
	case 'A':
		return 'C'
	case 'C':
		return 'G'
	case 'G':
		return 'T'
	default:
		return 'A'
	}
}

// duplicatedGenome returns a 1000 base chromosome with the bases at
// 1-based positions 101-121 repeated at 501-521, optionally with the
// center base of the copy substituted. The twenty phased flank
// positions on either side of both intervals are forced to differ, so
// that boundary extension and partially overlapping reads stop exactly
// at the repeat.
func duplicatedGenome(seed int64, substitute bool) []byte {
	r := rand.New(rand.NewSource(seed))
	seq := make([]byte, 1000)
	for i := range seq {
		seq[i] = "ACGT"[r.Intn(4)]
	}
	copy(seq[500:521], seq[100:121])
	if substitute {
		seq[510] = otherBase(seq[510])
	}
	for i := 1; i <= 20; i++ {
		if seq[500-i] == seq[100-i] {
			seq[500-i] = otherBase(seq[500-i])
		}
		if seq[520+i] == seq[120+i] {
			seq[520+i] = otherBase(seq[520+i])
		}
	}
	return seq
}

// doubleDuplicatedGenome is duplicatedGenome with a second independent
// repeat: 301-321 copied to 701-721, flanks phased apart the same way.
func doubleDuplicatedGenome(seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	seq := make([]byte, 1000)
	for i := range seq {
		seq[i] = "ACGT"[r.Intn(4)]
	}
	copy(seq[500:521], seq[100:121])
	copy(seq[700:721], seq[300:321])
	for i := 1; i <= 20; i++ {
		if seq[500-i] == seq[100-i] {
			seq[500-i] = otherBase(seq[500-i])
		}
		if seq[520+i] == seq[120+i] {
			seq[520+i] = otherBase(seq[520+i])
		}
		if seq[700-i] == seq[300-i] {
			seq[700-i] = otherBase(seq[700-i])
		}
		if seq[720+i] == seq[320+i] {
			seq[720+i] = otherBase(seq[720+i])
		}
	}
	return seq
}

func TestMergeBucket(t *testing.T) {
	seq := duplicatedGenome(7, false)
	genome := testGenome{contigs: []string{"chr1"}, seqs: map[string][]byte{"chr1": seq}}
	builder := NewBuilder(genome, Opts{ReadLength: 21})

	entries := []*Entry{
		{AlignChrom: "chr1", AlignStart: 107, AlignEnd: 121, OriginChrom: "chr1", OriginStart: 507, OriginEnd: 521, Strand: '+'},
		{AlignChrom: "chr1", AlignStart: 101, AlignEnd: 115, OriginChrom: "chr1", OriginStart: 501, OriginEnd: 515, Strand: '+'},
	}
	entries = builder.mergeBucket(entries, 0, 1)
	if len(entries) != 1 {
		t.Fatalf("mergeBucket kept %v entries", len(entries))
	}
	expected := &Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	}
	if !entries[0].Equal(expected) {
		t.Errorf("mergeBucket produced %v", entries[0])
	}
}

func writeFasta(t *testing.T, filename string, seq []byte) {
	t.Helper()
	data := append([]byte(">chr1\n"), seq...)
	data = append(data, '\n')
	if err := os.WriteFile(filename, data, 0600); err != nil {
		t.Fatal(err)
	}
}

// buildThesaurus runs the full workflow on a single chromosome
// sequence: generate reads, align them against the genome, and build
// the thesaurus table from the resulting alignment records. A
// bucketSpacing of 0 keeps the builder default.
func buildThesaurus(t *testing.T, seq []byte, maxMismatches, maxPenalty int, bucketSpacing int32) (*Thesaurus, BuilderStats, int64) {
	t.Helper()
	dir := t.TempDir()

	fastaPath := filepath.Join(dir, "genome.fasta")
	writeFasta(t, fastaPath, seq)
	genome := fasta.OpenGenome(fastaPath)

	readsPath := filepath.Join(dir, "reads.fq.gz")
	readWriter := fasta.CreateReads(readsPath)
	nofReads := fasta.GenerateReads(genome, 21, 10, readWriter)
	readWriter.Close()

	samPath := filepath.Join(dir, "alignments.sam")
	out := sam.Create(samPath)
	out.FormatHeader(align.Header(genome))
	index := align.NewEarIndex(genome.Seq("chr1"), 5)
	reads := fasta.OpenReads(readsPath)
	pstats, err := align.RunPipeline(context.Background(), index, "chr1", reads, func(alns []*sam.Alignment) {
		for _, aln := range alns {
			b, err := aln.Format(nil)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := out.Write(b); err != nil {
				t.Error(err)
				return
			}
		}
	}, align.PipelineOpts{MaxMismatches: maxMismatches, Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	reads.Close()
	out.Close()
	if pstats.Reads != nofReads || pstats.Placed != nofReads {
		t.Errorf("aligned %v of %v reads, placed %v", pstats.Reads, nofReads, pstats.Placed)
	}

	outputPath := filepath.Join(dir, "thesaurus.tsv")
	builder := NewBuilder(genome, Opts{
		Genome:        fastaPath,
		ReadLength:    21,
		MaxMismatches: maxMismatches,
		MaxPenalty:    maxPenalty,
		BucketSpacing: bucketSpacing,
		Workers:       2,
		WorkPath:      filepath.Join(dir, "work"),
	})
	if err := builder.Run(context.Background(), []string{samPath}, outputPath); err != nil {
		t.Fatal(err)
	}

	// The raw entry files are still in the work directory, so pass 2
	// must be able to run again on its own and reproduce the table.
	recoveredPath := filepath.Join(dir, "recovered.tsv")
	recovery := NewBuilder(genome, Opts{
		Genome:        fastaPath,
		ReadLength:    21,
		MaxMismatches: maxMismatches,
		MaxPenalty:    maxPenalty,
		BucketSpacing: bucketSpacing,
		Workers:       2,
		WorkPath:      filepath.Join(dir, "work"),
		SkipPass1:     true,
	})
	if err := recovery.Run(context.Background(), []string{}, recoveredPath); err != nil {
		t.Fatal(err)
	}
	recovered := Load(recoveredPath)
	thesaurus := Load(outputPath)
	for _, chrom := range thesaurus.Chroms {
		if len(recovered.Entries[chrom]) != len(thesaurus.Entries[chrom]) {
			t.Errorf("pass 2 recovery produced %v entries for %v instead of %v",
				len(recovered.Entries[chrom]), chrom, len(thesaurus.Entries[chrom]))
			continue
		}
		for i, entry := range thesaurus.Entries[chrom] {
			if !entry.Equal(recovered.Entries[chrom][i]) {
				t.Errorf("pass 2 recovery diverged for %v entry %v", chrom, i)
			}
		}
	}

	return thesaurus, builder.Stats(), nofReads
}

func TestBuildExactDuplication(t *testing.T) {
	seq := duplicatedGenome(42, false)
	thesaurus, stats, nofReads := buildThesaurus(t, seq, 0, 0, 0)

	if stats.Records != nofReads+2 || stats.Trivial != nofReads ||
		stats.Entries != 2 || stats.Malformed != 0 || stats.Filtered != 0 || stats.OverBudget != 0 {
		t.Errorf("pass 1 accounting failed: %+v for %v reads", stats, nofReads)
	}
	if thesaurus.Meta.ReadLength != 21 || thesaurus.Meta.MaxPenalty != 0 {
		t.Errorf("table metadata failed: %+v", thesaurus.Meta)
	}
	if len(thesaurus.Chroms) != 1 || thesaurus.Chroms[0] != "chr1" {
		t.Fatalf("table covers chromosomes %v", thesaurus.Chroms)
	}
	entries := thesaurus.Entries["chr1"]
	if len(entries) != 1 {
		t.Fatalf("table holds %v entries", len(entries))
	}
	expected := &Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	}
	if !entries[0].Equal(expected) {
		t.Errorf("table entry %v", entries[0])
	}
	if entries[0].Penalty() != 0 {
		t.Errorf("penalty %v for an exact duplication", entries[0].Penalty())
	}
}

func TestBuildMismatchDuplication(t *testing.T) {
	seq := duplicatedGenome(43, true)
	thesaurus, stats, nofReads := buildThesaurus(t, seq, 1, 1, 0)

	if stats.Records != nofReads+2 || stats.Trivial != nofReads || stats.Entries != 2 {
		t.Errorf("pass 1 accounting failed: %+v for %v reads", stats, nofReads)
	}
	entries := thesaurus.Entries["chr1"]
	if len(entries) != 1 {
		t.Fatalf("table holds %v entries", len(entries))
	}
	entry := entries[0]
	if entry.AlignStart != 101 || entry.AlignEnd != 121 ||
		entry.OriginStart != 501 || entry.OriginEnd != 521 || entry.Strand != '+' {
		t.Errorf("table entry %v", entry)
	}
	if entry.Penalty() != 1 {
		t.Fatalf("penalty %v for a single substitution", entry.Penalty())
	}
	refBase, subBase := seq[110], seq[510]
	anchor := Anchor{
		AlignPos:  111,
		OriginPos: 511,
		AlignRef:  refBase,
		AlignAlt:  subBase,
		OriginRef: subBase,
		OriginAlt: refBase,
	}
	if entry.Anchors[0] != anchor {
		t.Errorf("anchor %+v", entry.Anchors[0])
	}
}

// With a bucket spacing of 250 over a 1000 base chromosome, the two
// repeats land in different sort buckets (align starts 101 and 301),
// so the run covers multi-bucket distribution and the bucket-order
// concatenation of the output table.
func TestBuildBucketRouting(t *testing.T) {
	seq := doubleDuplicatedGenome(44)
	thesaurus, stats, nofReads := buildThesaurus(t, seq, 0, 0, 250)

	if stats.Records != nofReads+4 || stats.Trivial != nofReads || stats.Entries != 4 {
		t.Errorf("pass 1 accounting failed: %+v for %v reads", stats, nofReads)
	}
	entries := thesaurus.Entries["chr1"]
	if len(entries) != 2 {
		t.Fatalf("table holds %v entries", len(entries))
	}
	first := &Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	}
	second := &Entry{
		AlignChrom: "chr1", AlignStart: 301, AlignEnd: 321,
		OriginChrom: "chr1", OriginStart: 701, OriginEnd: 721,
		Strand: '+',
	}
	if !entries[0].Equal(first) {
		t.Errorf("first table entry %v", entries[0])
	}
	if !entries[1].Equal(second) {
		t.Errorf("second table entry %v", entries[1])
	}
}
