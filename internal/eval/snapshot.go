package eval

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// snapshotHeader is the CSV column layout of cache snapshots.
var snapshotHeader = []string{"fingerprint", "position", "score", "depth", "best", "pv", "alternatives"}

// SnapshotStats reports what an export or import did.
type SnapshotStats struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Existing int `json:"existing"`
	Skipped  int `json:"skipped"`
}

// Export writes every entry of fingerprint ("" = all) to path as CSV,
// zstd-compressed when path ends in .zst.
func Export(s Store, fingerprint, path string) (SnapshotStats, error) {
	var stats SnapshotStats
	f, err := os.Create(path)
	if err != nil {
		return stats, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var zw *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		zw, err = zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return stats, err
		}
		w = zw
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(snapshotHeader); err != nil {
		return stats, fmt.Errorf("write header: %w", err)
	}
	skipped, err := s.Iterate(fingerprint, func(k Key, r Result) error {
		stats.Rows++
		return cw.Write(snapshotRow(k, r))
	})
	stats.Skipped = skipped
	if err != nil {
		return stats, fmt.Errorf("iterate: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return stats, fmt.Errorf("csv writer error: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return stats, fmt.Errorf("close zstd: %w", err)
		}
	}
	return stats, f.Close()
}

func snapshotRow(k Key, r Result) []string {
	alts := make([]string, 0, len(r.Alternatives))
	for _, a := range r.Alternatives {
		alts = append(alts, a.Move+"="+a.Score.Encode())
	}
	return []string{
		k.Fingerprint,
		k.Position,
		r.Score.Encode(),
		strconv.Itoa(r.Depth),
		r.BestMove,
		strings.Join(r.PV, " "),
		strings.Join(alts, " "),
	}
}

func parseSnapshotRow(row []string) (Key, Result, error) {
	if len(row) < len(snapshotHeader) {
		return Key{}, Result{}, fmt.Errorf("want %d columns, got %d", len(snapshotHeader), len(row))
	}
	key, err := ParseKey(row[0] + "|" + row[1])
	if err != nil {
		return Key{}, Result{}, err
	}
	score, err := ParseScore(row[2])
	if err != nil {
		return Key{}, Result{}, err
	}
	depth, err := strconv.Atoi(row[3])
	if err != nil {
		return Key{}, Result{}, fmt.Errorf("bad depth %q", row[3])
	}
	r := Result{Score: score, Depth: depth, BestMove: row[4], PV: strings.Fields(row[5])}
	for _, field := range strings.Fields(row[6]) {
		mv, sc, ok := strings.Cut(field, "=")
		if !ok {
			return Key{}, Result{}, fmt.Errorf("bad alternative %q", field)
		}
		as, err := ParseScore(sc)
		if err != nil {
			return Key{}, Result{}, err
		}
		r.Alternatives = append(r.Alternatives, Alternative{Move: mv, Score: as})
	}
	return key, canonicalResult(r), nil
}

// Import loads a snapshot (plain, .gz or .zst) into s. Entries already in
// the store keep their value. A truncated compressed file imports the rows
// read before the damage.
func Import(s Store, path string) (SnapshotStats, error) {
	var stats SnapshotStats
	f, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return stats, err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return stats, err
		}
		defer gr.Close()
		reader = gr
	}

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return stats, fmt.Errorf("read header: %w", err)
		}
		// Empty, or truncated before the first row ended
		return stats, nil
	}
	if len(header) < 2 || header[0] != snapshotHeader[0] || header[1] != snapshotHeader[1] {
		return stats, fmt.Errorf("invalid header: expected %v, got %v", snapshotHeader, header)
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				continue
			}
			// Unexpected EOF from an incomplete frame: keep what we have
			break
		}
		stats.Rows++
		key, r, err := parseSnapshotRow(row)
		if err != nil {
			stats.Skipped++
			continue
		}
		stored, err := s.PutIfAbsent(key, r)
		if err != nil {
			return stats, err
		}
		if equalResult(stored, r) {
			stats.Imported++
		} else {
			stats.Existing++
		}
	}
	return stats, nil
}

func equalResult(a, b Result) bool {
	if a.Score != b.Score || a.Depth != b.Depth || a.BestMove != b.BestMove {
		return false
	}
	if len(a.PV) != len(b.PV) || len(a.Alternatives) != len(b.Alternatives) {
		return false
	}
	for i := range a.PV {
		if a.PV[i] != b.PV[i] {
			return false
		}
	}
	for i := range a.Alternatives {
		if a.Alternatives[i] != b.Alternatives[i] {
			return false
		}
	}
	return true
}
