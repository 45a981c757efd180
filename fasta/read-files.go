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

package fasta

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"

	"github.com/exascience/elthesaurus/internal"
)

// A Read is a named read sequence.
type Read struct {
	Name string
	Seq  []byte
}

// A ReadScanner iterates over the reads in a FASTQ or FASTA read
// file. Gzip-compressed input is decompressed on the fly.
type ReadScanner struct {
	name   string
	file   *os.File
	reader *bufio.Reader
	fastq  bool
	read   Read
	err    error
}

// OpenReads opens a read file, with panics in place of errors. The
// format is detected from the first byte: '@' for FASTQ, '>' for
// FASTA.
func OpenReads(filename string) *ReadScanner {
	file := internal.FileOpen(filename)
	reader := maybeGzip(bufio.NewReader(file))
	sc := &ReadScanner{name: filename, file: file, reader: reader}
	switch data, err := reader.Peek(1); {
	case err != nil:
		_ = file.Close()
		log.Panicf("%v, while opening read file %v", err, filename)
	case data[0] == '@':
		sc.fastq = true
	case data[0] == '>':
		sc.fastq = false
	default:
		_ = file.Close()
		log.Panicf("read file %v is neither FASTQ nor FASTA", filename)
	}
	return sc
}

func readName(line []byte) string {
	for i, c := range line {
		if c == ' ' || c == '\t' {
			return string(line[:i])
		}
	}
	return string(line)
}

func normalize(seq []byte) []byte {
	for i, c := range seq {
		seq[i] = ToUpperAndN(c)
	}
	return seq
}

// line reads the next line, stripping the trailing newline. It
// returns false at the end of the input.
func (sc *ReadScanner) line() ([]byte, bool) {
	line, err := sc.reader.ReadBytes('\n')
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if err != nil {
		if err != io.EOF {
			sc.err = err
			return nil, false
		}
		return line, len(line) > 0
	}
	return line, true
}

func (sc *ReadScanner) scanFastq() bool {
	header, ok := sc.line()
	if !ok {
		return false
	}
	if len(header) == 0 || header[0] != '@' {
		sc.err = fmt.Errorf("malformed FASTQ record in %v: missing @ header", sc.name)
		return false
	}
	seq, ok := sc.line()
	if !ok {
		sc.err = fmt.Errorf("malformed FASTQ record in %v: truncated record %v", sc.name, readName(header[1:]))
		return false
	}
	plus, ok := sc.line()
	if !ok || len(plus) == 0 || plus[0] != '+' {
		sc.err = fmt.Errorf("malformed FASTQ record in %v: missing + separator for %v", sc.name, readName(header[1:]))
		return false
	}
	qual, ok := sc.line()
	if !ok || len(qual) != len(seq) {
		sc.err = fmt.Errorf("malformed FASTQ record in %v: quality length mismatch for %v", sc.name, readName(header[1:]))
		return false
	}
	sc.read = Read{Name: readName(header[1:]), Seq: normalize(append([]byte(nil), seq...))}
	return true
}

func (sc *ReadScanner) scanFasta() bool {
	header, ok := sc.line()
	if !ok {
		return false
	}
	if len(header) == 0 || header[0] != '>' {
		sc.err = fmt.Errorf("malformed FASTA record in %v: missing > header", sc.name)
		return false
	}
	var seq []byte
	for {
		data, err := sc.reader.Peek(1)
		if err != nil {
			if err != io.EOF {
				sc.err = err
				return false
			}
			break
		}
		if data[0] == '>' {
			break
		}
		line, ok := sc.line()
		if !ok {
			break
		}
		seq = append(seq, line...)
	}
	if len(seq) == 0 {
		sc.err = fmt.Errorf("malformed FASTA record in %v: empty sequence for %v", sc.name, readName(header[1:]))
		return false
	}
	sc.read = Read{Name: readName(header[1:]), Seq: normalize(seq)}
	return true
}

// Scan advances the scanner to the next read. It returns false when
// the input is exhausted or a record is malformed; use Err to tell
// the two cases apart.
func (sc *ReadScanner) Scan() bool {
	if sc.err != nil {
		return false
	}
	if sc.fastq {
		return sc.scanFastq()
	}
	return sc.scanFasta()
}

// Read returns the read fetched by the most recent call to Scan.
func (sc *ReadScanner) Read() Read {
	return sc.read
}

// Err returns the error that terminated the scan, if any. Reaching
// the end of the input is not an error.
func (sc *ReadScanner) Err() error {
	return sc.err
}

// Close closes the read file, with panics in place of errors.
func (sc *ReadScanner) Close() {
	internal.Close(sc.file)
}

// A ReadWriter writes reads to a FASTQ file. Output with a .gz
// filename extension is compressed on the fly.
type ReadWriter struct {
	wc     *gzip.Writer
	file   *os.File
	writer *bufio.Writer
}

// CreateReads creates a FASTQ output file, with panics in place of
// errors.
func CreateReads(filename string) *ReadWriter {
	file := internal.FileCreate(filename)
	if filepath.Ext(filename) == ".gz" {
		gz := gzip.NewWriter(file)
		return &ReadWriter{wc: gz, file: file, writer: bufio.NewWriter(gz)}
	}
	return &ReadWriter{file: file, writer: bufio.NewWriter(file)}
}

// Write writes a single read as a FASTQ record with maximum base
// qualities, with panics in place of errors.
func (w *ReadWriter) Write(read Read) {
	buf := internal.ReserveByteBuffer()
	defer internal.ReleaseByteBuffer(buf)
	b := append(*buf, '@')
	b = append(b, read.Name...)
	b = append(b, '\n')
	b = append(b, read.Seq...)
	b = append(b, "\n+\n"...)
	for range read.Seq {
		b = append(b, 'I')
	}
	b = append(b, '\n')
	*buf = b
	internal.Write(w.writer, *buf)
}

// Close closes the FASTQ output file, with panics in place of errors.
func (w *ReadWriter) Close() {
	if err := w.writer.Flush(); err != nil {
		log.Panic(err)
	}
	if w.wc != nil {
		internal.Close(w.wc)
	}
	internal.Close(w.file)
}

// GenerateReads writes a read of the given length starting at every
// stride-th position of every contig of the genome, skipping windows
// that contain an unknown base. Read names encode the origin interval
// as chrom:start-end with 1-based inclusive coordinates. It returns
// the number of reads written.
func GenerateReads(genome Genome, readLength, stride int, w *ReadWriter) int64 {
	if readLength < 1 {
		log.Panicf("invalid read length %v", readLength)
	}
	if stride < 1 {
		stride = 1
	}
	var count int64
	for _, chrom := range genome.Contigs() {
		seq := genome.Seq(chrom)
	windows:
		for from := 0; from+readLength <= len(seq); from += stride {
			window := seq[from : from+readLength]
			for _, base := range window {
				if base == 'N' {
					continue windows
				}
			}
			name := chrom + ":" + strconv.Itoa(from+1) + "-" + strconv.Itoa(from+readLength)
			w.Write(Read{Name: name, Seq: window})
			count++
		}
	}
	return count
}
