package ingest

import (
	"bufio"
	"fmt"
	"io"
	"iter"

	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fastjson"

	"github.com/ccollicutt/smartguard/pkg/logstore"
	"github.com/ccollicutt/smartguard/pkg/parser"
)

// Export writes records as JSONL, zstd-compressed when compress is set.
// The output can be read back with the jsonl line format.
func Export(w io.Writer, records iter.Seq[logstore.Record], compress bool) (int, error) {
	var enc *zstd.Encoder
	if compress {
		var err error
		enc, err = zstd.NewWriter(w)
		if err != nil {
			return 0, fmt.Errorf("creating zstd encoder: %w", err)
		}
		w = enc
	}

	bw := bufio.NewWriter(w)
	var arena fastjson.Arena
	var line []byte
	n := 0

	for rec := range records {
		line = parser.AppendJSONL(line[:0], &arena, rec)
		arena.Reset()
		if _, err := bw.Write(line); err != nil {
			return n, fmt.Errorf("writing record %d: %w", rec.ID, err)
		}
		n++
	}

	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("flushing export: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return n, fmt.Errorf("finishing zstd stream: %w", err)
		}
	}
	return n, nil
}
