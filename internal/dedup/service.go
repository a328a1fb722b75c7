package dedup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ScanLockTimeout is how long a scan lock left by a dead process blocks
// new scans of the same roots.
const ScanLockTimeout = 6 * time.Hour

var serviceSeq atomic.Int64

// Session is the result of the latest scan: the roots, the mode and the
// review ledger built from the candidate set.
type Session struct {
	ID        string
	Roots     []string
	Mode      Mode
	CreatedAt time.Time
	Files     int
	Skipped   int
	Ledger    *Ledger
}

// Cross reports whether the session compared two trees.
func (s *Session) Cross() bool {
	return len(s.Roots) == 2
}

// ScanRequest names one root for a single-tree scan or two roots for a
// cross-tree scan.
type ScanRequest struct {
	Roots []string
	Mode  Mode
}

// ScanResult summarizes a completed scan.
type ScanResult struct {
	Session *Session
	Pairs   int
	Skipped []SkippedFile
	// NoMatches is set when the scan finished without candidates.
	NoMatches bool
}

// DedupService coordinates scanning, review and deletion for the CLI.
type DedupService struct {
	database Database
	trash    Trash
	fsmgr    FilesystemManager
	indexer  *Indexer
	matcher  *Matcher
	executor *Executor
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	// owner names this service in the scan_locks table.
	owner string

	mu      sync.Mutex
	running map[string]struct{}
	session *Session
}

// NewDedupService creates a DedupService with the provided dependencies.
func NewDedupService(database Database, trash Trash, fsmgr FilesystemManager, indexer *Indexer, matcher *Matcher, executor *Executor, logger Logger, clock Clock, idgen IDGenerator) *DedupService {
	return &DedupService{
		database: database,
		trash:    trash,
		fsmgr:    fsmgr,
		indexer:  indexer,
		matcher:  matcher,
		executor: executor,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		owner:    lockOwner(),
		running:  make(map[string]struct{}),
	}
}

func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%d", host, os.Getpid(), serviceSeq.Add(1))
}

// Scan indexes the requested roots, matches them and replaces the current
// session with a fresh ledger. An invalid root aborts the scan; unreadable
// files are only skipped. A second scan of the same roots while one is in
// flight fails with ErrScanInProgress.
func (s *DedupService) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if len(req.Roots) < 1 || len(req.Roots) > 2 {
		return nil, fmt.Errorf("scan needs one or two roots, got %d", len(req.Roots))
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeExact
	}

	roots := make([]*Path, len(req.Roots))
	for i, raw := range req.Roots {
		p, err := s.fsmgr.Resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("resolving root %s: %w", raw, err)
		}
		if !p.IsDir() {
			return nil, fmt.Errorf("root is not a directory: %s", p.String())
		}
		roots[i] = p
	}

	release, err := s.acquire(roots)
	if err != nil {
		return nil, err
	}
	defer release()

	s.logger.Info("scan started", "roots", rootNames(roots), "mode", string(mode))

	indexes := make([]*Index, len(roots))
	var skipped []SkippedFile
	files := 0
	for i, root := range roots {
		idx, err := s.indexer.Index(ctx, root, mode)
		if err != nil {
			return nil, fmt.Errorf("indexing %s: %w", root.String(), err)
		}
		indexes[i] = idx
		skipped = append(skipped, idx.Skipped...)
		files += idx.Files
	}

	var set *CandidateSet
	if len(indexes) == 1 {
		set, err = s.matcher.MatchSingle(ctx, indexes[0])
	} else {
		set, err = s.matcher.MatchCross(ctx, indexes[0], indexes[1])
	}
	if err != nil {
		return nil, fmt.Errorf("matching: %w", err)
	}

	session := &Session{
		ID:        s.idgen.New(),
		Roots:     rootNames(roots),
		Mode:      mode,
		CreatedAt: s.clock.Now(),
		Files:     files,
		Skipped:   len(skipped),
		Ledger:    NewLedger(set),
	}
	if err := s.database.SaveSession(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	s.logger.Info("scan complete", "session", session.ID, "files", files, "pairs", set.Len(), "skipped", len(skipped))
	return &ScanResult{
		Session:   session,
		Pairs:     set.Len(),
		Skipped:   skipped,
		NoMatches: set.Len() == 0,
	}, nil
}

// acquire claims the roots in this process first and then in the
// database, so scans from other processes sharing BaseDir are refused too.
func (s *DedupService) acquire(roots []*Path) (func(), error) {
	key := strings.Join(sortedNames(roots), "\x00")

	s.mu.Lock()
	if _, busy := s.running[key]; busy {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}
	s.running[key] = struct{}{}
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}

	now := s.clock.Now()
	if err := s.database.AcquireScanLock(key, s.owner, now, now.Add(-ScanLockTimeout)); err != nil {
		forget()
		if errors.Is(err, ErrScanInProgress) {
			return nil, err
		}
		return nil, fmt.Errorf("claiming scan lock: %w", err)
	}

	return func() {
		if err := s.database.ReleaseScanLock(key, s.owner); err != nil {
			s.logger.Warn("releasing scan lock failed", "roots", rootNames(roots), "err", err)
		}
		forget()
	}, nil
}

// Session returns the current session, loading it from the database when
// this process has not scanned yet.
func (s *DedupService) Session() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session, nil
	}

	session, err := s.database.LoadLatestSession()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session == nil {
		return nil, ErrNoSession
	}
	s.session = session
	return session, nil
}

// Toggle flips one side of the n-th pair (1-based).
func (s *DedupService) Toggle(n int, side Side) (ReviewEntry, error) {
	return s.update(n, func(l *Ledger, key PairKey) (ReviewEntry, error) {
		return l.Toggle(key, side)
	})
}

// Mark sets one side of the n-th pair (1-based).
func (s *DedupService) Mark(n int, side Side, value bool) (ReviewEntry, error) {
	return s.update(n, func(l *Ledger, key PairKey) (ReviewEntry, error) {
		return l.Set(key, side, value)
	})
}

func (s *DedupService) update(n int, fn func(*Ledger, PairKey) (ReviewEntry, error)) (ReviewEntry, error) {
	session, err := s.Session()
	if err != nil {
		return ReviewEntry{}, err
	}
	key, err := session.Ledger.KeyAt(n)
	if err != nil {
		return ReviewEntry{}, err
	}
	entry, err := fn(session.Ledger, key)
	if err != nil {
		return ReviewEntry{}, err
	}
	if err := s.database.SaveReviewEntries(session.ID, []ReviewEntry{entry}); err != nil {
		return ReviewEntry{}, fmt.Errorf("saving review entry: %w", err)
	}
	return entry, nil
}

// SetAll assigns value to side on every pair and returns how many pairs
// were updated.
func (s *DedupService) SetAll(side Side, value bool) (int, error) {
	session, err := s.Session()
	if err != nil {
		return 0, err
	}
	session.Ledger.SetAll(side, value)
	entries := session.Ledger.Entries()
	if err := s.database.SaveReviewEntries(session.ID, entries); err != nil {
		return 0, fmt.Errorf("saving review entries: %w", err)
	}
	s.logger.Debug("review flags set", "side", side.String(), "value", value, "pairs", len(entries))
	return len(entries), nil
}

// Approved lists the paths currently marked for deletion.
func (s *DedupService) Approved() ([]Approval, error) {
	session, err := s.Session()
	if err != nil {
		return nil, err
	}
	return session.Ledger.ApprovedDeletions(), nil
}

// Apply moves every approved path to the trash and prunes the session.
// Per-path failures are reported in the result; the returned error covers
// only problems persisting the outcome.
func (s *DedupService) Apply(ctx context.Context) (*ApplyResult, error) {
	session, err := s.Session()
	if err != nil {
		return nil, err
	}

	approvals := session.Ledger.ApprovedDeletions()
	if len(approvals) == 0 {
		s.logger.Info("nothing approved for deletion", "session", session.ID)
		return &ApplyResult{Failed: map[string]error{}, Items: map[string]*TrashItem{}}, nil
	}

	res := s.executor.Apply(ctx, session.Ledger, approvals)

	var errs []error
	if len(res.Pruned) > 0 {
		if err := s.database.RemovePairs(session.ID, res.Pruned); err != nil {
			errs = append(errs, fmt.Errorf("removing pruned pairs: %w", err))
		}
	}
	for _, a := range approvals {
		rec := &DeletionRecord{
			ID:        s.idgen.New(),
			SessionID: session.ID,
			Path:      a.Path,
			Size:      a.Size,
			CreatedAt: s.clock.Now(),
		}
		if item, ok := res.Items[a.Path]; ok {
			rec.Status = DeletionSucceeded
			rec.TrashID = item.ID
		} else if ferr, ok := res.Failed[a.Path]; ok {
			rec.Status = DeletionFailed
			rec.Error = ferr.Error()
		} else {
			continue
		}
		if err := s.database.RecordDeletion(rec); err != nil {
			errs = append(errs, fmt.Errorf("recording deletion of %s: %w", a.Path, err))
		}
	}
	return res, errors.Join(errs...)
}

// ListTrash returns the items held in the trash.
func (s *DedupService) ListTrash(ctx context.Context) ([]*TrashItem, error) {
	items, err := s.trash.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing trash: %w", err)
	}
	return items, nil
}

// RestoreTrash moves a trashed item back to its original location.
func (s *DedupService) RestoreTrash(ctx context.Context, id string, dec DecryptionContext) (*TrashItem, error) {
	item, err := s.trash.Restore(ctx, id, dec)
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", id, err)
	}
	s.logger.Info("restored from trash", "trash_id", id, "path", item.OriginalPath)
	return item, nil
}

// GetHistory returns the most recent operations, newest first.
func (s *DedupService) GetHistory(limit int) ([]*OperationRecord, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}

// GetDeletions returns the most recent deletion outcomes, newest first.
func (s *DedupService) GetDeletions(limit int) ([]*DeletionRecord, error) {
	recs, err := s.database.ListDeletions(limit)
	if err != nil {
		return nil, fmt.Errorf("listing deletions: %w", err)
	}
	return recs, nil
}

func rootNames(roots []*Path) []string {
	names := make([]string, len(roots))
	for i, r := range roots {
		names[i] = r.String()
	}
	return names
}

func sortedNames(roots []*Path) []string {
	names := rootNames(roots)
	sort.Strings(names)
	return names
}
