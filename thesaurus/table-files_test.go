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
	"io"
	"path/filepath"
	"testing"
)

func TestFormatEntry(t *testing.T) {
	entry := &Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	}
	line := string(FormatEntry(nil, entry))
	if line != "chr1\t101\t121\tchr1\t501\t521\t0\t+\tNA\tN\tN\tNA\tN\tN" {
		t.Errorf("FormatEntry without anchors failed: %v", line)
	}

	entry.Anchors = []Anchor{
		{111, 511, 'A', 'C', 'C', 'A'},
		{115, 515, 'G', 'T', 'T', 'G'},
	}
	line = string(FormatEntry(nil, entry))
	if line != "chr1\t101\t121\tchr1\t501\t521\t2\t+\t111;115\tA;G\tC;T\t511;515\tC;T\tA;G" {
		t.Errorf("FormatEntry with anchors failed: %v", line)
	}
}

func TestParseEntry(t *testing.T) {
	roundTrip := func(entry *Entry) {
		t.Helper()
		parsed, err := ParseEntry(string(FormatEntry(nil, entry)))
		if err != nil {
			t.Errorf("ParseEntry failed: %v", err)
			return
		}
		if !parsed.Equal(entry) {
			t.Errorf("entry round trip failed: %v", parsed)
		}
	}
	roundTrip(&Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	})
	roundTrip(&Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr2", OriginStart: 501, OriginEnd: 521,
		Strand: '-',
		Anchors: []Anchor{
			{111, 511, 'A', 'C', 'G', 'T'},
			{115, 507, 'G', 'T', 'C', 'A'},
			{120, 502, 'C', 'A', 'G', 'T'},
		},
	})
	// A single anchor whose base fields are all N is an anchor, not an
	// empty list; the penalty column disambiguates.
	roundTrip(&Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand:  '+',
		Anchors: []Anchor{{111, 511, 'N', 'C', 'C', 'N'}},
	})

	invalid := []string{
		"chr1\t101\t121\tchr1\t501\t521\t0\t+\tNA\tN\tN\tNA\tN",
		"chr1\t101\t121\tchr1\t501\t521\t0\t+\tNA\tN\tN\tNA\tN\tN\textra",
		"chr1\t0\t121\tchr1\t501\t521\t0\t+\tNA\tN\tN\tNA\tN\tN",
		"chr1\t121\t101\tchr1\t501\t521\t0\t+\tNA\tN\tN\tNA\tN\tN",
		"chr1\t101\t121\tchr1\t501\t530\t0\t+\tNA\tN\tN\tNA\tN\tN",
		"chr1\t101\t121\tchr1\t501\t521\t0\t*\tNA\tN\tN\tNA\tN\tN",
		"chr1\t101\t121\tchr1\t501\t521\t-1\t+\tNA\tN\tN\tNA\tN\tN",
		"chr1\t101\t121\tchr1\t501\t521\t0\t+\t111\tA\tC\t511\tC\tA",
		"chr1\t101\t121\tchr1\t501\t521\t2\t+\t111\tA;G\tC;T\t511;515\tC;T\tA;G",
		"chr1\t101\t121\tchr1\t501\t521\t1\t+\t111;115\tA\tC\t511\tC\tA",
		"chr1\t101\t121\tchr1\t501\t521\t2\t+\t115;111\tA;G\tC;T\t515;511\tC;T\tA;G",
		"chr1\t101\t121\tchr1\t501\t521\t2\t+\t111;115\tAA;G\tC;T\t511;515\tC;T\tA;G",
	}
	for _, line := range invalid {
		if _, err := ParseEntry(line); err == nil {
			t.Errorf("ParseEntry accepted %v", line)
		}
	}
}

func TestAlignStartOf(t *testing.T) {
	start, err := AlignStartOf("chr1\t12345\t12365\tchr2\t501\t521\t0\t+\tNA\tN\tN\tNA\tN\tN")
	if err != nil {
		t.Errorf("AlignStartOf failed: %v", err)
	}
	if start != 12345 {
		t.Errorf("AlignStartOf returned %v", start)
	}
	if _, err := AlignStartOf("chr1"); err == nil {
		t.Error("AlignStartOf accepted a truncated line")
	}
	if _, err := AlignStartOf("chr1\tx\t12365"); err == nil {
		t.Error("AlignStartOf accepted a malformed coordinate")
	}
}

func TestTableFiles(t *testing.T) {
	entries := []*Entry{
		{
			AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
			OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
			Strand: '+',
		},
		{
			AlignChrom: "chr1", AlignStart: 1001, AlignEnd: 1100,
			OriginChrom: "chr2", OriginStart: 2001, OriginEnd: 2100,
			Strand:  '-',
			Anchors: []Anchor{{1050, 2051, 'A', 'C', 'G', 'T'}},
		},
	}
	meta := Meta{Genome: "test.fasta", ReadLength: 21, MaxMismatches: 1, MaxPenalty: 1}

	for _, name := range []string{"table.tsv", "table.tsv.gz"} {
		filename := filepath.Join(t.TempDir(), name)
		writer := Create(filename, meta)
		for _, entry := range entries {
			writer.Write(entry)
		}
		writer.Close()

		reader := Open(filename)
		if reader.Meta != meta {
			t.Errorf("table metadata round trip failed: %v", reader.Meta)
		}
		for _, entry := range entries {
			parsed, err := reader.Read()
			if err != nil {
				t.Errorf("reading %v failed: %v", name, err)
				break
			}
			if !parsed.Equal(entry) {
				t.Errorf("table round trip failed: %v", parsed)
			}
		}
		if _, err := reader.Read(); err != io.EOF {
			t.Errorf("reading beyond the last entry of %v returned %v", name, err)
		}
		reader.Close()
	}
}

func TestLoadThesaurus(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "table.tsv")
	writer := Create(filename, Meta{Genome: "test.fasta", ReadLength: 21})
	writer.Write(&Entry{
		AlignChrom: "chr1", AlignStart: 101, AlignEnd: 121,
		OriginChrom: "chr1", OriginStart: 501, OriginEnd: 521,
		Strand: '+',
	})
	writer.Write(&Entry{
		AlignChrom: "chr1", AlignStart: 110, AlignEnd: 130,
		OriginChrom: "chr2", OriginStart: 201, OriginEnd: 221,
		Strand: '-',
	})
	writer.Close()

	thesaurus := Load(filename)
	if len(thesaurus.Chroms) != 1 || thesaurus.Chroms[0] != "chr1" {
		t.Errorf("loaded chromosomes %v", thesaurus.Chroms)
	}
	if len(thesaurus.Entries["chr1"]) != 2 {
		t.Errorf("loaded %v entries", len(thesaurus.Entries["chr1"]))
	}
	if regions := thesaurus.Regions()["chr1"]; len(regions) != 2 {
		// 101-121 and 110-130 flatten into one region, 501-521 stays.
		t.Errorf("chr1 regions %v", regions)
	}
	if !thesaurus.Overlaps("chr1", 125, 200) {
		t.Error("Overlaps missed a linked region")
	}
	if !thesaurus.Overlaps("chr2", 210, 215) {
		t.Error("Overlaps missed an origin region")
	}
	if thesaurus.Overlaps("chr1", 200, 400) {
		t.Error("Overlaps reported an unlinked region")
	}
	if thesaurus.Overlaps("chr3", 1, 1000) {
		t.Error("Overlaps reported an unknown chromosome")
	}
}
