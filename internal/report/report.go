// Package report renders a review session for people and for other
// tools.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"medup/internal/dedup"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format name. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format: %q (want text, json, yaml or csv)", s)
	}
}

// File is one side of a reported pair.
type File struct {
	Path        string `json:"path" yaml:"path"`
	Size        uint64 `json:"size" yaml:"size"`
	Class       string `json:"class" yaml:"class"`
	CaptureTime string `json:"capture_time,omitempty" yaml:"capture_time,omitempty"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Delete      bool   `json:"delete" yaml:"delete"`
}

// Pair is one numbered review entry.
type Pair struct {
	N      int     `json:"n" yaml:"n"`
	Reason string  `json:"reason" yaml:"reason"`
	Score  float64 `json:"score,omitempty" yaml:"score,omitempty"`
	Left   File    `json:"left" yaml:"left"`
	Right  File    `json:"right" yaml:"right"`
}

// Summary describes the session as a whole.
type Summary struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Roots     []string  `json:"roots" yaml:"roots"`
	Mode      string    `json:"mode" yaml:"mode"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Files     int       `json:"files" yaml:"files"`
	Skipped   int       `json:"skipped" yaml:"skipped"`
	Pairs     int       `json:"pairs" yaml:"pairs"`
	// Marked counts distinct paths flagged for deletion.
	Marked int `json:"marked" yaml:"marked"`
	// Reclaimable is the total size of the marked paths.
	Reclaimable uint64 `json:"reclaimable_bytes" yaml:"reclaimable_bytes"`
}

// Report is the serializable view of a session.
type Report struct {
	Summary Summary `json:"summary" yaml:"summary"`
	Pairs   []Pair  `json:"pairs" yaml:"pairs"`
}

// Build snapshots s into a Report.
func Build(s *dedup.Session) *Report {
	entries := s.Ledger.Entries()
	approvals := s.Ledger.ApprovedDeletions()

	r := &Report{
		Summary: Summary{
			SessionID: s.ID,
			Roots:     append([]string(nil), s.Roots...),
			Mode:      string(s.Mode),
			CreatedAt: s.CreatedAt,
			Files:     s.Files,
			Skipped:   s.Skipped,
			Pairs:     len(entries),
			Marked:    len(approvals),
		},
		Pairs: make([]Pair, 0, len(entries)),
	}
	for _, a := range approvals {
		r.Summary.Reclaimable += a.Size
	}
	for i, e := range entries {
		r.Pairs = append(r.Pairs, Pair{
			N:      i + 1,
			Reason: string(e.Pair.Reason),
			Score:  e.Pair.Score,
			Left:   fileOf(e.Pair.Left, e.DeleteLeft),
			Right:  fileOf(e.Pair.Right, e.DeleteRight),
		})
	}
	return r
}

func fileOf(rec dedup.FileRecord, del bool) File {
	return File{
		Path:        rec.Path,
		Size:        rec.Size,
		Class:       rec.Class.String(),
		CaptureTime: rec.CaptureTime,
		Fingerprint: rec.Fingerprint.String(),
		Delete:      del,
	}
}

// Write renders s to w in the given format.
func Write(w io.Writer, s *dedup.Session, format Format) error {
	r := Build(s)
	switch format {
	case FormatText, "":
		return writeText(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding json report: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encoding yaml report: %w", err)
		}
		return enc.Close()
	case FormatCSV:
		return writeCSV(w, r)
	default:
		return fmt.Errorf("unknown report format: %q", format)
	}
}

func mark(del bool) string {
	if del {
		return "[x]"
	}
	return "[ ]"
}

func writeText(w io.Writer, r *Report) error {
	s := r.Summary
	fmt.Fprintf(w, "Session %s (%s mode), scanned %s\n", s.SessionID, s.Mode, s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Roots: %s\n", strings.Join(s.Roots, ", "))
	fmt.Fprintf(w, "Files: %d indexed, %d skipped\n", s.Files, s.Skipped)
	fmt.Fprintln(w)

	if len(r.Pairs) == 0 {
		fmt.Fprintln(w, "No duplicate pairs.")
	}
	for _, p := range r.Pairs {
		reason := p.Reason
		if p.Reason == string(dedup.ReasonSimilar) {
			reason = fmt.Sprintf("%s, distance %g", p.Reason, p.Score)
		}
		fmt.Fprintf(w, "%4d. %s %s (%s)\n", p.N, mark(p.Left.Delete), p.Left.Path, humanize.IBytes(p.Left.Size))
		fmt.Fprintf(w, "      %s %s (%s)  [%s]\n", mark(p.Right.Delete), p.Right.Path, humanize.IBytes(p.Right.Size), reason)
	}

	fmt.Fprintln(w)
	_, err := fmt.Fprintf(w, "%d pairs, %d files marked, %s reclaimable\n", s.Pairs, s.Marked, humanize.IBytes(s.Reclaimable))
	return err
}

var csvHeader = []string{
	"n", "reason", "score",
	"left_path", "left_size", "left_capture_time", "delete_left",
	"right_path", "right_size", "right_capture_time", "delete_right",
}

func writeCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, p := range r.Pairs {
		row := []string{
			strconv.Itoa(p.N),
			p.Reason,
			strconv.FormatFloat(p.Score, 'g', -1, 64),
			p.Left.Path,
			strconv.FormatUint(p.Left.Size, 10),
			p.Left.CaptureTime,
			strconv.FormatBool(p.Left.Delete),
			p.Right.Path,
			strconv.FormatUint(p.Right.Size, 10),
			p.Right.CaptureTime,
			strconv.FormatBool(p.Right.Delete),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row %d: %w", p.N, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
