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
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/exascience/elthesaurus/fasta"
	"github.com/exascience/elthesaurus/sam"
)

func writeTestReads(t *testing.T, seq []byte, readLength, stride int) (string, int) {
	name := filepath.Join(t.TempDir(), "reads.fq")
	writer := fasta.CreateReads(name)
	nofReads := 0
	for p := 0; p+readLength <= len(seq); p += stride {
		writer.Write(fasta.Read{
			Name: fmt.Sprintf("chr1:%v-%v", p+1, p+readLength),
			Seq:  seq[p : p+readLength],
		})
		nofReads++
	}
	writer.Close()
	return name, nofReads
}

func TestPipelineCompletion(t *testing.T) {
	r := rand.New(rand.NewSource(33))
	seq := randomSequence(r, 2000, 0)
	index := NewEarIndex(seq, 5)
	name, nofReads := writeTestReads(t, seq, 50, 25)
	reads := fasta.OpenReads(name)
	defer reads.Close()
	var records int64
	stats, err := RunPipeline(context.Background(), index, "chr1", reads, func(alns []*sam.Alignment) {
		records += int64(len(alns))
		for _, aln := range alns {
			if aln.RNAME != "chr1" {
				t.Error("pipeline record chromosome failed")
			}
			if nm, ok := aln.EditDistance(); !ok || nm != 0 {
				t.Error("pipeline record edit distance failed")
			}
		}
	}, PipelineOpts{MaxMismatches: 0, Workers: 4})
	if err != nil {
		t.Error("pipeline completion failed")
	}
	if stats.Reads != int64(nofReads) {
		t.Error("pipeline read count failed")
	}
	if stats.Placed != int64(nofReads) {
		t.Error("pipeline placement count failed")
	}
	if records != stats.Records || records < int64(nofReads) {
		t.Error("pipeline record count failed")
	}
}

func TestPipelineCancellation(t *testing.T) {
	r := rand.New(rand.NewSource(34))
	seq := randomSequence(r, 2000, 0)
	index := NewEarIndex(seq, 5)
	name, nofReads := writeTestReads(t, seq, 50, 1)
	reads := fasta.OpenReads(name)
	defer reads.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := RunPipeline(ctx, index, "chr1", reads, func([]*sam.Alignment) {}, PipelineOpts{MaxMismatches: 0, Workers: 2})
	if err != context.Canceled {
		t.Error("pipeline cancellation error failed")
	}
	if stats.Reads >= int64(nofReads) {
		t.Error("pipeline cancellation cutoff failed")
	}
}

func TestPipelineMidRunCancellation(t *testing.T) {
	r := rand.New(rand.NewSource(35))
	seq := randomSequence(r, 2000, 0)
	index := NewEarIndex(seq, 5)
	name, _ := writeTestReads(t, seq, 50, 1)
	reads := fasta.OpenReads(name)
	defer reads.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := RunPipeline(ctx, index, "chr1", reads, func([]*sam.Alignment) {
		cancel()
	}, PipelineOpts{MaxMismatches: 0, Workers: 2})
	if err != context.Canceled {
		t.Error("pipeline mid run cancellation failed")
	}
}
