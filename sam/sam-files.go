// elThesaurus: a high-performance tool for building genome repeat thesauri.
// Copyright (c) 2024-2026 imec vzw.

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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"

	"github.com/exascience/elthesaurus/internal"
	"github.com/exascience/elthesaurus/utils"
)

// ParseHeaderField parses a TAG:VALUE pair from a SAM header line.
func (sc *StringScanner) ParseHeaderField() (tag, value string) {
	if sc.err != nil {
		return
	}
	tag, ok := sc.readUntil(':')
	if !ok || (len(tag) != 2) {
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid header field tag %v", tag)
		}
		return "", ""
	}
	value, _ = sc.readUntil('\t')
	return tag, value
}

// ParseHeaderLine parses all TAG:VALUE pairs in a SAM header line.
func (sc *StringScanner) ParseHeaderLine() utils.StringMap {
	if sc.err != nil {
		return nil
	}
	record := make(utils.StringMap)
	for sc.Len() > 0 {
		tag, value := sc.ParseHeaderField()
		if !record.SetUniqueEntry(tag, value) {
			if sc.err == nil {
				sc.err = fmt.Errorf("duplicate field tag %v in a SAM header line", tag)
			}
			break
		}
	}
	return record
}

func parseHeader(reader *bufio.Reader) (hdr *Header, err error) {
	hdr = NewHeader()
	var sc StringScanner
	for first := true; ; first = false {
		switch data, err := reader.Peek(1); {
		case err == io.EOF:
			return hdr, sc.err
		case err != nil:
			return hdr, err
		case data[0] != '@':
			return hdr, sc.err
		}
		bytes, err := reader.ReadBytes('\n')
		length := len(bytes)
		switch {
		case err == nil:
			length--
		case err != io.EOF:
			return hdr, err
		}
		line := string(bytes[4:length])
		sc.Reset(line)
		switch string(bytes[0:4]) {
		case "@HD\t":
			if !first {
				return hdr, errors.New("@HD line not in first line when parsing a SAM header")
			}
			hdr.HD = sc.ParseHeaderLine()
		case "@SQ\t":
			hdr.SQ = append(hdr.SQ, sc.ParseHeaderLine())
		case "@RG\t":
			hdr.RG = append(hdr.RG, sc.ParseHeaderLine())
		case "@PG\t":
			hdr.PG = append(hdr.PG, sc.ParseHeaderLine())
		case "@CO\t":
			hdr.CO = append(hdr.CO, line)
		default:
			switch code := string(bytes[0:3]); {
			case code == "@CO":
				hdr.CO = append(hdr.CO, string(bytes[3:length]))
			case IsHeaderUserTag(code):
				if bytes[3] != '\t' {
					return hdr, fmt.Errorf("header code %v not followed by a tab when parsing a SAM header", code)
				}
				hdr.AddUserRecord(code, sc.ParseHeaderLine())
			default:
				return hdr, fmt.Errorf("unknown SAM record type code %v", code)
			}
		}
	}
}

// ParseHeader parses the header section of a SAM input file, with
// panics in place of errors.
func (f *InputFile) ParseHeader() *Header {
	hdr, err := parseHeader(f.reader)
	if err != nil {
		log.Panicf("%v, while parsing the header of %v", err, f.name)
	}
	return hdr
}

// SkipHeader skips the header section of a SAM input file. This is
// more efficient than calling ParseHeader and ignoring its result.
func (f *InputFile) SkipHeader() {
	for {
		data, err := f.reader.Peek(1)
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Panicf("%v, while skipping the header of %v", err, f.name)
		}
		if data[0] != '@' {
			return
		}
		if _, err := f.reader.ReadBytes('\n'); err != nil {
			if err == io.EOF {
				return
			}
			log.Panicf("%v, while skipping the header of %v", err, f.name)
		}
	}
}

// A FieldParser parses the value of a SAM optional field.
type FieldParser func(*StringScanner) interface{}

// ByteArray is the representation for H-typed SAM optional fields.
type ByteArray []byte

// ParseChar parses an A-typed SAM optional field value.
func (sc *StringScanner) ParseChar() interface{} {
	if sc.err != nil {
		return nil
	}
	value, _ := sc.readByteUntil('\t')
	return value
}

// ParseInteger parses an i-typed SAM optional field value.
func (sc *StringScanner) ParseInteger() interface{} {
	if sc.err != nil {
		return nil
	}
	value, _ := sc.readUntil('\t')
	val, err := strconv.ParseInt(value, 10, 32)
	if (err != nil) && (sc.err == nil) {
		sc.err = err
	}
	return int32(val)
}

// ParseFloat parses an f-typed SAM optional field value.
func (sc *StringScanner) ParseFloat() interface{} {
	if sc.err != nil {
		return nil
	}
	value, _ := sc.readUntil('\t')
	val, err := strconv.ParseFloat(value, 32)
	if (err != nil) && (sc.err == nil) {
		sc.err = err
	}
	return float32(val)
}

// ParseString parses a Z-typed SAM optional field value.
func (sc *StringScanner) ParseString() interface{} {
	if sc.err != nil {
		return nil
	}
	value, _ := sc.readUntil('\t')
	return value
}

// ParseByteArray parses an H-typed SAM optional field value.
func (sc *StringScanner) ParseByteArray() interface{} {
	if sc.err != nil {
		return nil
	}
	value, _ := sc.readUntil('\t')
	if len(value)%2 != 0 {
		sc.err = errors.New("odd-length H field value in SAM alignment line")
		return nil
	}
	result := ByteArray(make([]byte, 0, len(value)>>1))
	for i := 0; i < len(value); i += 2 {
		val, err := strconv.ParseUint(value[i:i+2], 16, 8)
		if err != nil {
			if sc.err == nil {
				sc.err = err
			}
			return nil
		}
		result = append(result, byte(val))
	}
	return result
}

// ParseNumericArray parses a B-typed SAM optional field value.
func (sc *StringScanner) ParseNumericArray() interface{} {
	if sc.err != nil {
		return nil
	}
	ntype, ok := sc.readByteUntil(',')
	if !ok {
		if sc.err == nil {
			sc.err = errors.New("missing entry in numeric array")
		}
		return nil
	}
	switch ntype {
	case 'c':
		var result []int8
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseInt(entry, 10, 8)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, int8(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 'C':
		var result []uint8
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseUint(entry, 10, 8)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, uint8(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 's':
		var result []int16
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseInt(entry, 10, 16)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, int16(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 'S':
		var result []uint16
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseUint(entry, 10, 16)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, uint16(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 'i':
		var result []int32
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseInt(entry, 10, 32)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, int32(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 'I':
		var result []uint32
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseUint(entry, 10, 32)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, uint32(val))
			if sep != ',' {
				break
			}
		}
		return result
	case 'f':
		var result []float32
		for {
			entry, sep := sc.readUntil2(',', '\t')
			val, err := strconv.ParseFloat(entry, 32)
			if err != nil {
				if sc.err == nil {
					sc.err = err
				}
				return nil
			}
			result = append(result, float32(val))
			if sep != ',' {
				break
			}
		}
		return result
	default:
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid numeric array type %v", ntype)
		}
		return nil
	}
}

var optionalFieldParseTable = map[byte]FieldParser{
	'A': (*StringScanner).ParseChar,
	'i': (*StringScanner).ParseInteger,
	'f': (*StringScanner).ParseFloat,
	'Z': (*StringScanner).ParseString,
	'H': (*StringScanner).ParseByteArray,
	'B': (*StringScanner).ParseNumericArray,
}

// ParseOptionalField parses a SAM optional field, including its tag
// and type byte.
func (sc *StringScanner) ParseOptionalField() (tag utils.Symbol, value interface{}) {
	if sc.err != nil {
		return nil, nil
	}
	tagname, ok := sc.readUntil(':')
	if !ok || (len(tagname) != 2) {
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid field tag %v in SAM alignment line", tagname)
		}
		return nil, nil
	}
	tag = utils.Intern(tagname)
	typebyte, ok := sc.readByteUntil(':')
	if !ok {
		if sc.err == nil {
			sc.err = fmt.Errorf("invalid field type %v in SAM alignment line", typebyte)
		}
		return nil, nil
	}
	parser, ok := optionalFieldParseTable[typebyte]
	if !ok {
		sc.err = fmt.Errorf("unknown optional field type %v in SAM alignment line", typebyte)
		return nil, nil
	}
	return tag, parser(sc)
}

func (sc *StringScanner) doString() string {
	if sc.err != nil {
		return ""
	}
	value, ok := sc.readUntil('\t')
	if !ok {
		if sc.err == nil {
			sc.err = errors.New("missing tabulator in SAM alignment line")
		}
		return ""
	}
	return value
}

func (sc *StringScanner) doInt32() int32 {
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseInt(sc.doString(), 10, 32)
	if (err != nil) && (sc.err == nil) {
		sc.err = err
	}
	return int32(value)
}

func (sc *StringScanner) doUint(bitSize int) uint64 {
	if sc.err != nil {
		return 0
	}
	value, err := strconv.ParseUint(sc.doString(), 10, bitSize)
	if (err != nil) && (sc.err == nil) {
		sc.err = err
	}
	return value
}

// ParseAlignment parses a SAM alignment line. Check Err() afterwards
// to see whether the line was well-formed.
func (sc *StringScanner) ParseAlignment() *Alignment {
	aln := NewAlignment()

	aln.QNAME = sc.doString()
	aln.FLAG = uint16(sc.doUint(16))
	aln.RNAME = sc.doString()
	aln.POS = sc.doInt32()
	aln.MAPQ = byte(sc.doUint(8))
	aln.CIGAR = sc.doString()
	aln.RNEXT = sc.doString()
	aln.PNEXT = sc.doInt32()
	aln.TLEN = sc.doInt32()
	aln.SEQ = sc.doString()
	aln.QUAL, _ = sc.readUntil('\t')

	for sc.Len() > 0 {
		aln.TAGS.Set(sc.ParseOptionalField())
	}

	return aln
}

// FormatString writes a TAG:VALUE pair of a SAM header line.
func FormatString(out *bufio.Writer, tag, value string) {
	out.WriteByte('\t')
	out.WriteString(tag)
	out.WriteByte(':')
	out.WriteString(value)
}

// FormatHeaderLine writes a SAM header line with the given record
// type code.
func FormatHeaderLine(out *bufio.Writer, code string, record utils.StringMap) {
	out.WriteString(code)
	for key, value := range record {
		FormatString(out, key, value)
	}
	out.WriteByte('\n')
}

// FormatComment writes a SAM header comment line.
func FormatComment(out *bufio.Writer, code, comment string) {
	out.WriteString(code)
	out.WriteByte('\t')
	out.WriteString(comment)
	out.WriteByte('\n')
}

// Format writes the header section of a SAM file.
func (hdr *Header) Format(out *bufio.Writer) {
	if hdr.HD != nil {
		FormatHeaderLine(out, "@HD", hdr.HD)
	}
	for _, record := range hdr.SQ {
		FormatHeaderLine(out, "@SQ", record)
	}
	for _, record := range hdr.RG {
		FormatHeaderLine(out, "@RG", record)
	}
	for _, record := range hdr.PG {
		FormatHeaderLine(out, "@PG", record)
	}
	for _, comment := range hdr.CO {
		FormatComment(out, "@CO", comment)
	}
	for code, records := range hdr.UserRecords {
		for _, record := range records {
			FormatHeaderLine(out, code, record)
		}
	}
}

// FormatTag appends a SAM optional field to out.
func FormatTag(out []byte, tag utils.Symbol, value interface{}) ([]byte, error) {
	out = append(out, '\t')
	out = append(out, *tag...)

	switch val := value.(type) {
	case byte:
		out = append(append(out, ":A:"...), val)
	case int32:
		out = strconv.AppendInt(append(out, ":i:"...), int64(val), 10)
	case float32:
		out = strconv.AppendFloat(append(out, ":f:"...), float64(val), 'g', -1, 32)
	case string:
		out = append(append(out, ":Z:"...), val...)
	case utils.Symbol:
		out = append(append(out, ":Z:"...), *val...)
	case ByteArray:
		out = append(out, ":H:"...)
		for _, b := range val {
			if b < 16 {
				out = append(out, '0')
			}
			out = strconv.AppendUint(out, uint64(b), 16)
		}
	case []int8:
		out = append(out, ":B:c"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint8:
		out = append(out, ":B:C"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []int16:
		out = append(out, ":B:s"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint16:
		out = append(out, ":B:S"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []int32:
		out = append(out, ":B:i"...)
		for _, v := range val {
			out = strconv.AppendInt(append(out, ','), int64(v), 10)
		}
	case []uint32:
		out = append(out, ":B:I"...)
		for _, v := range val {
			out = strconv.AppendUint(append(out, ','), uint64(v), 10)
		}
	case []float32:
		out = append(out, ":B:f"...)
		for _, v := range val {
			out = strconv.AppendFloat(append(out, ','), float64(v), 'g', -1, 32)
		}
	default:
		return nil, fmt.Errorf("unknown SAM alignment TAG type %v", value)
	}

	return out, nil
}

// Format appends the SAM file representation of the alignment to out,
// including a trailing newline.
func (aln *Alignment) Format(out []byte) ([]byte, error) {
	out = append(append(out, aln.QNAME...), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.FLAG), 10), '\t')
	out = append(append(out, aln.RNAME...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.POS), 10), '\t')
	out = append(strconv.AppendUint(out, uint64(aln.MAPQ), 10), '\t')
	out = append(append(out, aln.CIGAR...), '\t')
	out = append(append(out, aln.RNEXT...), '\t')
	out = append(strconv.AppendInt(out, int64(aln.PNEXT), 10), '\t')
	out = append(strconv.AppendInt(out, int64(aln.TLEN), 10), '\t')
	out = append(append(out, aln.SEQ...), '\t')
	out = append(out, aln.QUAL...)

	var err error
	for _, entry := range aln.TAGS {
		if out, err = FormatTag(out, entry.Key, entry.Value); err != nil {
			return nil, err
		}
	}

	return append(out, '\n'), nil
}

// Format writes the full SAM file representation of sam.
func (sam *Sam) Format(out *bufio.Writer) error {
	sam.Header.Format(out)
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)
	for _, aln := range sam.Alignments {
		b, err := aln.Format(*buf)
		if err != nil {
			return err
		}
		*buf = b
		if _, err := out.Write(*buf); err != nil {
			return err
		}
		*buf = (*buf)[:0]
	}
	return nil
}

type (
	// InputFile represents a SAM file for input. BAM and CRAM input
	// is read through a samtools subprocess, gzip-compressed SAM
	// input is decompressed on the fly.
	//
	// InputFile implements the pargo pipeline.Source interface,
	// producing batches of alignment lines from the alignment
	// section.
	InputFile struct {
		name    string
		rc      io.ReadCloser
		file    *os.File
		cmd     *exec.Cmd
		reader  *bufio.Reader
		data    [][]byte
		err     error
		skipped int64
	}

	// OutputFile represents a SAM file for output. BAM output is
	// written through a samtools subprocess, gzip-compressed SAM
	// output is compressed on the fly.
	OutputFile struct {
		name   string
		wc     io.WriteCloser
		file   *os.File
		cmd    *exec.Cmd
		writer *bufio.Writer
	}
)

// SAM file extensions.
const (
	SamExt  = ".sam"
	BamExt  = ".bam"
	CramExt = ".cram"
	GzExt   = ".gz"
)

func nofSamtoolsThreads() string {
	return strconv.FormatInt(int64(runtime.GOMAXPROCS(0)), 10)
}

// Open opens a SAM input file, with panics in place of errors.
//
// If the filename extension is .bam or .cram, the file is read
// through a samtools subprocess. If the filename extension is .gz,
// the file is decompressed on the fly. Any other extension is read as
// plain SAM. If the name is "/dev/stdin", the input is read from
// os.Stdin.
func Open(name string) *InputFile {
	switch filepath.Ext(name) {
	case BamExt, CramExt:
		if _, err := os.Stat(name); err != nil {
			log.Panic(err)
		}
		cmd := exec.Command("samtools", "view", "-h", "-@", nofSamtoolsThreads(), name)
		outPipe, err := cmd.StdoutPipe()
		if err != nil {
			log.Panic(err)
		}
		if err := cmd.Start(); err != nil {
			log.Panic(err)
		}
		return &InputFile{name: name, rc: outPipe, cmd: cmd, reader: bufio.NewReader(outPipe)}
	case GzExt:
		file := internal.FileOpen(name)
		gz, err := gzip.NewReader(file)
		if err != nil {
			log.Panic(err)
		}
		return &InputFile{name: name, rc: gz, file: file, reader: bufio.NewReader(gz)}
	default:
		if name == "/dev/stdin" {
			return &InputFile{name: name, rc: os.Stdin, reader: bufio.NewReader(os.Stdin)}
		}
		file := internal.FileOpen(name)
		return &InputFile{name: name, rc: file, reader: bufio.NewReader(file)}
	}
}

// Create creates a SAM output file, with panics in place of errors.
//
// If the filename extension is .bam, the output is written through a
// samtools subprocess. If the filename extension is .gz, the output
// is compressed on the fly. Any other extension is written as plain
// SAM. If the name is "/dev/stdout", the output is written to
// os.Stdout. CRAM output is not supported.
func Create(name string) *OutputFile {
	switch filepath.Ext(name) {
	case BamExt:
		cmd := exec.Command("samtools", "view", "-Sb", "-@", nofSamtoolsThreads(), "-o", name, "-")
		inPipe, err := cmd.StdinPipe()
		if err != nil {
			log.Panic(err)
		}
		if err := cmd.Start(); err != nil {
			log.Panic(err)
		}
		return &OutputFile{name: name, wc: inPipe, cmd: cmd, writer: bufio.NewWriter(inPipe)}
	case CramExt:
		log.Panicf("CRAM format not supported when creating %v", name)
		return nil
	case GzExt:
		file := internal.FileCreate(name)
		gz := gzip.NewWriter(file)
		return &OutputFile{name: name, wc: gz, file: file, writer: bufio.NewWriter(gz)}
	default:
		if name == "/dev/stdout" {
			return &OutputFile{name: name, wc: os.Stdout, writer: bufio.NewWriter(os.Stdout)}
		}
		file := internal.FileCreate(name)
		return &OutputFile{name: name, wc: file, writer: bufio.NewWriter(file)}
	}
}

// ParseAlignment parses a line from the alignment section into an
// Alignment. Parse errors are reported back to the caller so that
// malformed lines can be skipped and logged.
func (f *InputFile) ParseAlignment(block []byte) (*Alignment, error) {
	var sc StringScanner
	sc.Reset(string(block))
	aln := sc.ParseAlignment()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return aln, nil
}

// SkipRecord counts a malformed alignment line that was dropped from
// the input. It is safe for multiple goroutines to call SkipRecord
// concurrently.
func (f *InputFile) SkipRecord() {
	atomic.AddInt64(&f.skipped, 1)
}

// Skipped returns the number of malformed alignment lines that were
// dropped from the input so far.
func (f *InputFile) Skipped() int64 {
	return atomic.LoadInt64(&f.skipped)
}

// Err implements the corresponding method of the pipeline.Source
// interface.
func (f *InputFile) Err() error {
	return f.err
}

// Prepare implements the corresponding method of the pipeline.Source
// interface.
func (f *InputFile) Prepare(_ context.Context) int {
	return -1
}

// Fetch implements the corresponding method of the pipeline.Source
// interface. It fetches up to size lines from the alignment section.
func (f *InputFile) Fetch(size int) (fetched int) {
	batch := make([][]byte, 0, size)
	for fetched < size {
		line, err := f.reader.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if len(line) > 0 {
				batch = append(batch, line)
				fetched++
			}
		}
		if err != nil {
			if err != io.EOF {
				f.err = err
			}
			break
		}
	}
	f.data = batch
	return fetched
}

// Data implements the corresponding method of the pipeline.Source
// interface.
func (f *InputFile) Data() interface{} {
	return f.data
}

// Close closes the SAM input file, with panics in place of errors.
func (f *InputFile) Close() {
	if f.rc != os.Stdin {
		internal.Close(f.rc)
	}
	if f.file != nil {
		internal.Close(f.file)
	}
	if f.cmd != nil {
		if err := f.cmd.Wait(); err != nil {
			log.Panic(err)
		}
	}
}

// FormatHeader writes the header section to the SAM output file.
func (f *OutputFile) FormatHeader(hdr *Header) {
	hdr.Format(f.writer)
}

// Write writes a block of bytes to the SAM output file.
func (f *OutputFile) Write(p []byte) (int, error) {
	return f.writer.Write(p)
}

// Close closes the SAM output file, with panics in place of errors.
func (f *OutputFile) Close() {
	if err := f.writer.Flush(); err != nil {
		log.Panic(err)
	}
	if f.wc != os.Stdout {
		internal.Close(f.wc)
	}
	if f.file != nil {
		internal.Close(f.file)
	}
	if f.cmd != nil {
		if err := f.cmd.Wait(); err != nil {
			log.Panic(err)
		}
	}
}
