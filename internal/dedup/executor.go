package dedup

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ApplyResult summarizes one batch of deletions.
type ApplyResult struct {
	// Succeeded lists moved paths in approval order.
	Succeeded []string
	// Failed maps each failed path to its reason.
	Failed map[string]error
	// Items holds the trash entry for each succeeded path.
	Items map[string]*TrashItem
	// Pruned lists pairs removed from the ledger.
	Pruned []PairKey
	// Reclaimed is the total size of succeeded paths.
	Reclaimed uint64
}

// Executor moves approved paths to the trash.
type Executor struct {
	trash   Trash
	fsmgr   FilesystemManager
	workers int
	logger  Logger
}

// NewExecutor creates an Executor. workers below 1 means sequential.
func NewExecutor(trash Trash, fsmgr FilesystemManager, workers int, logger Logger) *Executor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Executor{trash: trash, fsmgr: fsmgr, workers: workers, logger: logger}
}

type applyOutcome struct {
	item *TrashItem
	err  error
	done bool
}

// Apply moves every approval to the trash, one trash call per distinct
// path. A failure on one path never stops the others. Each moved path is
// pruned from ledger as soon as it succeeds.
func (e *Executor) Apply(ctx context.Context, ledger *Ledger, approvals []Approval) *ApplyResult {
	outcomes := make([]applyOutcome, len(approvals))

	var mu sync.Mutex
	claimed := make(map[string]struct{}, len(approvals))
	var pruned []PairKey

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, a := range approvals {
		mu.Lock()
		_, dup := claimed[a.Path]
		claimed[a.Path] = struct{}{}
		mu.Unlock()
		if dup {
			continue
		}

		g.Go(func() error {
			item, err := e.deleteOne(ctx, a.Path)
			outcomes[i] = applyOutcome{item: item, err: err, done: true}
			if err != nil {
				e.logger.Warn("delete failed", "path", a.Path, "err", err)
				return nil
			}
			e.logger.Info("moved to trash", "path", a.Path, "trash_id", item.ID)
			if ledger != nil {
				keys := ledger.PrunePath(a.Path)
				mu.Lock()
				pruned = append(pruned, keys...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &ApplyResult{
		Failed: make(map[string]error),
		Items:  make(map[string]*TrashItem),
		Pruned: pruned,
	}
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		path := approvals[i].Path
		if o.err != nil {
			res.Failed[path] = o.err
			continue
		}
		res.Succeeded = append(res.Succeeded, path)
		res.Items[path] = o.item
		res.Reclaimed += approvals[i].Size
	}

	e.logger.Info("apply complete", "succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res
}

func (e *Executor) deleteOne(ctx context.Context, path string) (*TrashItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FileError{Op: "delete", Path: path, Err: err}
	}

	exists, err := e.fsmgr.Exists(path)
	if err != nil {
		return nil, &FileError{Op: "stat", Path: path, Err: err}
	}
	if !exists {
		return nil, &FileError{Op: "delete", Path: path, Err: ErrAlreadyGone}
	}

	item, err := e.trash.MoveToTrash(ctx, path)
	if err != nil {
		return nil, &FileError{Op: "trash", Path: path, Err: fmt.Errorf("%w: %w", ErrExternalTool, err)}
	}
	return item, nil
}
