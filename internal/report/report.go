// Package report writes a run's evidence packet and move dump to disk.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/freeeve/weakscan/internal/analysis"
	"github.com/freeeve/weakscan/internal/classify"
)

// Format is the packet encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts json, yaml and yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Write encodes the packet of rep to w.
func Write(w io.Writer, rep *analysis.Report, f Format) error {
	switch f {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// MoveRow is one line of the move dump.
type MoveRow struct {
	GameID      string              `json:"game_id"`
	Ply         int                 `json:"ply"`
	MoveNumber  int                 `json:"move_number"`
	Color       string              `json:"color"`
	FEN         string              `json:"fen"`
	Played      string              `json:"played"`
	SAN         string              `json:"san"`
	Best        string              `json:"best,omitempty"`
	BestSAN     string              `json:"best_san,omitempty"`
	EvalBefore  string              `json:"eval_before"`
	EvalAfter   string              `json:"eval_after"`
	CPL         int                 `json:"cpl"`
	Severity    classify.Severity   `json:"severity"`
	Flags       classify.MateFlags  `json:"flags"`
	Phase       classify.Phase      `json:"phase"`
	Fallback    bool                `json:"phase_fallback,omitempty"`
	TimeControl string              `json:"time_control"`
	Time        *classify.TimeUsage `json:"time,omitempty"`
	Depth       int                 `json:"depth"`
	Refined     bool                `json:"refined,omitempty"`
}

func rowOf(r *classify.MoveRecord) MoveRow {
	return MoveRow{
		GameID:      r.GameID,
		Ply:         r.Ply,
		MoveNumber:  r.MoveNumber,
		Color:       r.Color.String(),
		FEN:         r.Before.FEN(),
		Played:      r.Played,
		SAN:         r.SAN,
		Best:        r.BestMove,
		BestSAN:     r.BestSAN,
		EvalBefore:  r.EvalBefore.String(),
		EvalAfter:   r.EvalAfter.String(),
		CPL:         r.CPL,
		Severity:    r.Severity,
		Flags:       r.Flags,
		Phase:       r.Phase,
		Fallback:    r.PhaseFallback,
		TimeControl: string(r.TimeControl),
		Time:        r.Time,
		Depth:       r.Depth,
		Refined:     r.Refined,
	}
}

// WriteMoves writes one JSON object per record.
func WriteMoves(w io.Writer, records []*classify.MoveRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, r := range records {
		if err := enc.Encode(rowOf(r)); err != nil {
			return fmt.Errorf("encode move %s/%d: %w", r.GameID, r.Ply, err)
		}
	}
	return bw.Flush()
}

// Paths lists the files written for a run.
type Paths struct {
	Packet string
	Moves  string
}

// WriteFiles writes the packet and the move dump of rep into dir, named by
// run id. Files are written to a temporary name and renamed into place.
func WriteFiles(dir string, rep *analysis.Report, f Format) (Paths, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}
	ext := string(f)
	p := Paths{
		Packet: filepath.Join(dir, fmt.Sprintf("weakscan-%s.%s", rep.Meta.RunID, ext)),
		Moves:  filepath.Join(dir, fmt.Sprintf("moves-%s.jsonl", rep.Meta.RunID)),
	}
	if err := writeAtomic(p.Packet, func(w io.Writer) error { return Write(w, rep, f) }); err != nil {
		return Paths{}, err
	}
	if err := writeAtomic(p.Moves, func(w io.Writer) error { return WriteMoves(w, rep.Records) }); err != nil {
		return Paths{}, err
	}
	return p, nil
}

func writeAtomic(path string, fn func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
