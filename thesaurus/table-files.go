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
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/exascience/elthesaurus/internal"
	"github.com/exascience/elthesaurus/intervals"
	"github.com/klauspost/compress/gzip"
)

// TableFormat identifies the thesaurus table format in the first
// metadata line of every table.
const TableFormat = "thesaurusv1.0"

// TableHeader is the column header line of a thesaurus table.
const TableHeader = "#alignChr\talignStart\talignEnd\toriginChr\toriginStart\toriginEnd\tpenalty\tstrand\talignAnchorPositions\talignAnchorRefBases\talignAnchorAltBases\toriginAnchorPositions\toriginAnchorRefBases\toriginAnchorAltBases"

// Meta records how a thesaurus was built. It is stored in ##-prefixed
// metadata lines at the top of every table.
type Meta struct {
	Genome        string
	ReadLength    int
	MaxMismatches int
	MaxPenalty    int
}

func appendAnchorPositions(buf []byte, anchors []Anchor, origin bool) []byte {
	if len(anchors) == 0 {
		return append(buf, "NA"...)
	}
	for i, anchor := range anchors {
		if i > 0 {
			buf = append(buf, ';')
		}
		pos := anchor.AlignPos
		if origin {
			pos = anchor.OriginPos
		}
		buf = strconv.AppendInt(buf, int64(pos), 10)
	}
	return buf
}

func appendAnchorBases(buf []byte, anchors []Anchor, pick func(Anchor) byte) []byte {
	if len(anchors) == 0 {
		return append(buf, 'N')
	}
	for i, anchor := range anchors {
		if i > 0 {
			buf = append(buf, ';')
		}
		buf = append(buf, pick(anchor))
	}
	return buf
}

// FormatEntry appends the tab-separated table representation of the
// entry to buf. Empty anchor lists serialize as NA for positions and N
// for bases.
func FormatEntry(buf []byte, entry *Entry) []byte {
	buf = append(buf, entry.AlignChrom...)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(entry.AlignStart), 10)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(entry.AlignEnd), 10)
	buf = append(buf, '\t')
	buf = append(buf, entry.OriginChrom...)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(entry.OriginStart), 10)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(entry.OriginEnd), 10)
	buf = append(buf, '\t')
	buf = strconv.AppendInt(buf, int64(len(entry.Anchors)), 10)
	buf = append(buf, '\t')
	buf = append(buf, entry.Strand)
	buf = append(buf, '\t')
	buf = appendAnchorPositions(buf, entry.Anchors, false)
	buf = append(buf, '\t')
	buf = appendAnchorBases(buf, entry.Anchors, func(anchor Anchor) byte { return anchor.AlignRef })
	buf = append(buf, '\t')
	buf = appendAnchorBases(buf, entry.Anchors, func(anchor Anchor) byte { return anchor.AlignAlt })
	buf = append(buf, '\t')
	buf = appendAnchorPositions(buf, entry.Anchors, true)
	buf = append(buf, '\t')
	buf = appendAnchorBases(buf, entry.Anchors, func(anchor Anchor) byte { return anchor.OriginRef })
	buf = append(buf, '\t')
	buf = appendAnchorBases(buf, entry.Anchors, func(anchor Anchor) byte { return anchor.OriginAlt })
	return buf
}

func emptyAnchorField(field string) bool {
	return field == "NA" || field == "N"
}

func parseAnchorPositions(field string, penalty int) ([]int32, error) {
	positions := make([]int32, 0, penalty)
	for i := 0; i < penalty; i++ {
		item := field
		if j := strings.IndexByte(field, ';'); j >= 0 {
			item, field = field[:j], field[j+1:]
		} else {
			field = ""
		}
		value, err := strconv.ParseInt(item, 10, 32)
		if err != nil {
			return nil, err
		}
		positions = append(positions, int32(value))
	}
	if field != "" {
		return nil, fmt.Errorf("too many anchor positions")
	}
	return positions, nil
}

func parseAnchorBases(field string, penalty int) ([]byte, error) {
	bases := make([]byte, 0, penalty)
	for i := 0; i < penalty; i++ {
		item := field
		if j := strings.IndexByte(field, ';'); j >= 0 {
			item, field = field[:j], field[j+1:]
		} else {
			field = ""
		}
		if len(item) != 1 {
			return nil, fmt.Errorf("invalid anchor base %v", item)
		}
		bases = append(bases, item[0])
	}
	if field != "" {
		return nil, fmt.Errorf("too many anchor bases")
	}
	return bases, nil
}

func parseCoordinate(field string) (int32, error) {
	value, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		return 0, err
	}
	if value < 1 {
		return 0, fmt.Errorf("coordinate %v out of range", value)
	}
	return int32(value), nil
}

// ParseEntry parses one tab-separated table line, the inverse of
// FormatEntry. It validates the shape of the entry: 14 columns, a
// penalty that matches the anchor list lengths, intervals of equal
// lengths, and anchors sorted by ascending align position.
func ParseEntry(line string) (*Entry, error) {
	var fields [14]string
	rest := line
	for n := 0; n < 13; n++ {
		i := strings.IndexByte(rest, '\t')
		if i < 0 {
			return nil, fmt.Errorf("too few columns in thesaurus line %v", line)
		}
		fields[n], rest = rest[:i], rest[i+1:]
	}
	if strings.IndexByte(rest, '\t') >= 0 {
		return nil, fmt.Errorf("too many columns in thesaurus line %v", line)
	}
	fields[13] = rest
	entry := &Entry{
		AlignChrom:  fields[0],
		OriginChrom: fields[3],
	}
	var err error
	if entry.AlignStart, err = parseCoordinate(fields[1]); err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	if entry.AlignEnd, err = parseCoordinate(fields[2]); err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	if entry.OriginStart, err = parseCoordinate(fields[4]); err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	if entry.OriginEnd, err = parseCoordinate(fields[5]); err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	if entry.AlignEnd < entry.AlignStart || entry.OriginEnd < entry.OriginStart ||
		entry.AlignEnd-entry.AlignStart != entry.OriginEnd-entry.OriginStart {
		return nil, fmt.Errorf("inconsistent intervals in thesaurus line %v", line)
	}
	penalty, err := strconv.Atoi(fields[6])
	if err != nil || penalty < 0 {
		return nil, fmt.Errorf("invalid penalty in thesaurus line %v", line)
	}
	if len(fields[7]) != 1 || (fields[7][0] != '+' && fields[7][0] != '-') {
		return nil, fmt.Errorf("invalid strand in thesaurus line %v", line)
	}
	entry.Strand = fields[7][0]
	if penalty == 0 {
		for _, field := range fields[8:] {
			if !emptyAnchorField(field) {
				return nil, fmt.Errorf("unexpected anchors in thesaurus line %v", line)
			}
		}
		return entry, nil
	}
	alignPositions, err := parseAnchorPositions(fields[8], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	alignRefs, err := parseAnchorBases(fields[9], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	alignAlts, err := parseAnchorBases(fields[10], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	originPositions, err := parseAnchorPositions(fields[11], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	originRefs, err := parseAnchorBases(fields[12], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	originAlts, err := parseAnchorBases(fields[13], penalty)
	if err != nil {
		return nil, fmt.Errorf("%v in thesaurus line %v", err, line)
	}
	entry.Anchors = make([]Anchor, penalty)
	for i := range entry.Anchors {
		if i > 0 && alignPositions[i-1] >= alignPositions[i] {
			return nil, fmt.Errorf("unsorted anchors in thesaurus line %v", line)
		}
		entry.Anchors[i] = Anchor{
			AlignPos:  alignPositions[i],
			OriginPos: originPositions[i],
			AlignRef:  alignRefs[i],
			AlignAlt:  alignAlts[i],
			OriginRef: originRefs[i],
			OriginAlt: originAlts[i],
		}
	}
	return entry, nil
}

// AlignStartOf extracts the align start coordinate from a table line
// without parsing the full entry. Pass 2 of the builder uses it to
// route lines to bucket files.
func AlignStartOf(line string) (int32, error) {
	i := strings.IndexByte(line, '\t')
	if i < 0 {
		return 0, fmt.Errorf("too few columns in thesaurus line %v", line)
	}
	rest := line[i+1:]
	j := strings.IndexByte(rest, '\t')
	if j < 0 {
		return 0, fmt.Errorf("too few columns in thesaurus line %v", line)
	}
	return parseCoordinate(rest[:j])
}

// A Writer writes a thesaurus table, compressed with gzip if the
// file name ends in .gz.
type Writer struct {
	name   string
	file   *os.File
	wc     io.WriteCloser
	writer *bufio.Writer
	buf    []byte
}

// Create creates a thesaurus table file and writes its metadata and
// header lines.
func Create(filename string, meta Meta) *Writer {
	w := &Writer{name: filename}
	w.file = internal.FileCreate(filename)
	if strings.HasSuffix(filename, ".gz") {
		w.wc = gzip.NewWriter(w.file)
		w.writer = bufio.NewWriter(w.wc)
	} else {
		w.writer = bufio.NewWriter(w.file)
	}
	internal.WriteString(w.writer, "##fileformat="+TableFormat+"\n")
	internal.WriteString(w.writer, "##genome="+meta.Genome+"\n")
	internal.WriteString(w.writer, "##readLength="+strconv.Itoa(meta.ReadLength)+"\n")
	internal.WriteString(w.writer, "##maxMismatches="+strconv.Itoa(meta.MaxMismatches)+"\n")
	internal.WriteString(w.writer, "##maxPenalty="+strconv.Itoa(meta.MaxPenalty)+"\n")
	internal.WriteString(w.writer, TableHeader+"\n")
	return w
}

// Write appends one entry to the table.
func (w *Writer) Write(entry *Entry) {
	w.buf = FormatEntry(w.buf[:0], entry)
	w.buf = append(w.buf, '\n')
	internal.Write(w.writer, w.buf)
}

// Close flushes and closes the table file.
func (w *Writer) Close() {
	if err := w.writer.Flush(); err != nil {
		log.Panic(err)
	}
	if w.wc != nil {
		internal.Close(w.wc)
	}
	internal.Close(w.file)
}

// A Reader reads a thesaurus table, decompressing it if the file name
// ends in .gz. The metadata lines are parsed when the reader is
// opened.
type Reader struct {
	name   string
	file   *os.File
	rc     io.ReadCloser
	reader *bufio.Reader
	Meta   Meta
}

// Open opens a thesaurus table and parses its metadata and header
// lines.
func Open(filename string) *Reader {
	r := &Reader{name: filename}
	r.file = internal.FileOpen(filename)
	if strings.HasSuffix(filename, ".gz") {
		rc, err := gzip.NewReader(r.file)
		if err != nil {
			log.Panic(err)
		}
		r.rc = rc
		r.reader = bufio.NewReader(rc)
	} else {
		r.reader = bufio.NewReader(r.file)
	}
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			log.Panicf("%v is not a thesaurus file - missing header", filename)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "##") {
			meta := line[2:]
			i := strings.IndexByte(meta, '=')
			if i < 0 {
				continue
			}
			key, value := meta[:i], meta[i+1:]
			switch key {
			case "fileformat":
				if value != TableFormat {
					log.Panicf("unsupported thesaurus format %v in %v", value, filename)
				}
			case "genome":
				r.Meta.Genome = value
			case "readLength":
				r.Meta.ReadLength = int(internal.ParseInt(value, 10, 64))
			case "maxMismatches":
				r.Meta.MaxMismatches = int(internal.ParseInt(value, 10, 64))
			case "maxPenalty":
				r.Meta.MaxPenalty = int(internal.ParseInt(value, 10, 64))
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			return r
		}
		log.Panicf("%v is not a thesaurus file - invalid header line %v", filename, line)
	}
}

// Read returns the next entry of the table, or io.EOF after the last
// one.
func (r *Reader) Read() (*Entry, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			log.Panic(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return ParseEntry(line)
	}
}

// Close closes the table file.
func (r *Reader) Close() {
	if r.rc != nil {
		internal.Close(r.rc)
	}
	internal.Close(r.file)
}

// A Thesaurus is a fully loaded repeat table, the data model the
// downstream annotation tools call into.
type Thesaurus struct {
	Meta    Meta
	Chroms  []string            // align chromosomes in table order
	Entries map[string][]*Entry // per align chromosome, sorted by align start
	regions map[string][]intervals.Interval
}

// Load reads a complete thesaurus table into memory and indexes the
// regions it covers. A malformed table aborts the load.
func Load(filename string) *Thesaurus {
	reader := Open(filename)
	defer reader.Close()
	t := &Thesaurus{
		Meta:    reader.Meta,
		Entries: make(map[string][]*Entry),
		regions: make(map[string][]intervals.Interval),
	}
	for {
		entry, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Panic(err)
		}
		if _, found := t.Entries[entry.AlignChrom]; !found {
			t.Chroms = append(t.Chroms, entry.AlignChrom)
		}
		t.Entries[entry.AlignChrom] = append(t.Entries[entry.AlignChrom], entry)
		t.regions[entry.AlignChrom] = append(t.regions[entry.AlignChrom], intervals.Interval{Start: entry.AlignStart, End: entry.AlignEnd})
		t.regions[entry.OriginChrom] = append(t.regions[entry.OriginChrom], intervals.Interval{Start: entry.OriginStart, End: entry.OriginEnd})
	}
	for chrom, regions := range t.regions {
		intervals.ParallelSortByStart(regions)
		t.regions[chrom] = intervals.ParallelFlatten(regions)
	}
	return t
}

// Regions returns the union of the align and origin intervals of all
// entries, per chromosome, flattened and sorted by start position.
func (t *Thesaurus) Regions() map[string][]intervals.Interval {
	return t.regions
}

// Overlaps tells whether the given range overlaps any interval linked
// by the thesaurus.
func (t *Thesaurus) Overlaps(chrom string, start, end int32) bool {
	return intervals.Overlap(t.regions[chrom], start, end)
}
