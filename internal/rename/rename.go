// Package rename performs batches of renames inside a directory without
// clobbering files whose names are reused by the batch.
package rename

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"medup/internal/dedup"
)

// Move renames From to To. Both are absolute paths.
type Move struct {
	From string
	To   string
}

// Plan is an ordered batch of moves.
type Plan struct {
	Moves []Move
}

// Validate checks that sources exist, targets are unique, and no target
// would overwrite a file outside the batch.
func (p *Plan) Validate() error {
	sources := make(map[string]bool, len(p.Moves))
	for _, m := range p.Moves {
		if sources[m.From] {
			return fmt.Errorf("%s is moved twice", m.From)
		}
		sources[m.From] = true
	}

	targets := make(map[string]bool, len(p.Moves))
	for _, m := range p.Moves {
		if _, err := os.Lstat(m.From); err != nil {
			return fmt.Errorf("source %s: %w", m.From, err)
		}
		if targets[m.To] {
			return fmt.Errorf("%s is the target of more than one move", m.To)
		}
		targets[m.To] = true
		if sources[m.To] {
			continue
		}
		if _, err := os.Lstat(m.To); err == nil {
			return fmt.Errorf("refusing to overwrite existing file: %s", m.To)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("target %s: %w", m.To, err)
		}
	}
	return nil
}

// Renamer applies plans.
type Renamer struct {
	logger dedup.Logger
	rename func(from, to string) error
}

// NewRenamer creates a Renamer. logger may be nil.
func NewRenamer(logger dedup.Logger) *Renamer {
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	return &Renamer{logger: logger, rename: os.Rename}
}

type step struct {
	from, to string
}

// Apply runs plan in two phases: every source first moves to a temporary
// name next to it, then every temporary name moves to its target. Any
// failure undoes the steps already taken, in reverse order.
func (r *Renamer) Apply(plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	var done []step
	undo := func(cause error) error {
		for i := len(done) - 1; i >= 0; i-- {
			s := done[i]
			if err := r.rename(s.to, s.from); err != nil {
				r.logger.Error("rollback failed", "from", s.to, "to", s.from, "err", err)
				return fmt.Errorf("%w (rollback incomplete at %s: %v)", cause, s.to, err)
			}
		}
		return cause
	}

	temps, err := tempNames(plan)
	if err != nil {
		return err
	}
	for i, m := range plan.Moves {
		if err := r.rename(m.From, temps[i]); err != nil {
			return undo(fmt.Errorf("moving %s aside: %w", m.From, err))
		}
		done = append(done, step{m.From, temps[i]})
	}

	for i, m := range plan.Moves {
		if err := r.rename(temps[i], m.To); err != nil {
			return undo(fmt.Errorf("renaming to %s: %w", m.To, err))
		}
		done = append(done, step{temps[i], m.To})
	}

	r.logger.Info("renamed files", "count", len(plan.Moves))
	return nil
}

// tempNames picks a parking name next to each source. A name is used only
// if nothing exists there and the plan does not target it, so leftovers
// from an interrupted run are never overwritten.
func tempNames(plan *Plan) ([]string, error) {
	reserved := make(map[string]bool, 2*len(plan.Moves))
	for _, m := range plan.Moves {
		reserved[m.To] = true
	}

	temps := make([]string, len(plan.Moves))
	seq := 0
	for i, m := range plan.Moves {
		dir, ext := filepath.Dir(m.From), filepath.Ext(m.From)
		for {
			seq++
			name := filepath.Join(dir, fmt.Sprintf(".medup-rename-%d%s", seq, ext))
			if reserved[name] {
				continue
			}
			_, err := os.Lstat(name)
			if errors.Is(err, os.ErrNotExist) {
				temps[i] = name
				reserved[name] = true
				break
			}
			if err != nil {
				return nil, fmt.Errorf("checking temporary name %s: %w", name, err)
			}
		}
	}
	return temps, nil
}

var numberedImage = regexp.MustCompile(`(?i)^(\d+)\.(jpg|jpeg|png|gif|bmp)$`)

// ReverseNumbered plans renaming the numbered images in dir (1.jpg,
// 2.png, ...) so their order is reversed: the highest number becomes 1.
// Extensions are lowercased. Files already at their target are left out.
func ReverseNumbered(dir string) (*Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	type numbered struct {
		n    int
		name string
		ext  string
	}
	var files []numbered
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := numberedImage.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, numbered{n: n, name: e.Name(), ext: m[2]})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no numbered images in %s", dir)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].n != files[j].n {
			return files[i].n > files[j].n
		}
		return files[i].name > files[j].name
	})

	plan := &Plan{}
	for i, f := range files {
		to := filepath.Join(dir, strconv.Itoa(i+1)+"."+strings.ToLower(f.ext))
		from := filepath.Join(dir, f.name)
		if from == to {
			continue
		}
		plan.Moves = append(plan.Moves, Move{From: from, To: to})
	}
	return plan, nil
}
