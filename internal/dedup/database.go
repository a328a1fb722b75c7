package dedup

import "time"

// DeletionRecord is the persisted outcome of one approved deletion.
type DeletionRecord struct {
	ID        string
	SessionID string
	Path      string
	Size      uint64
	TrashID   string
	Status    string
	Error     string
	CreatedAt time.Time
}

// Deletion statuses.
const (
	DeletionSucceeded = "succeeded"
	DeletionFailed    = "failed"
)

// Operation statuses. An operation stays running if the process dies
// before Close.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// OperationRecord is one entry in the command history.
type OperationRecord struct {
	ID         string
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Database persists the review session between invocations along with the
// deletion log and command history.
type Database interface {
	// SaveSession stores s and its ledger, replacing any earlier session.
	SaveSession(s *Session) error

	// LoadLatestSession returns the stored session, or nil if none exists.
	LoadLatestSession() (*Session, error)

	// SaveReviewEntries writes the flags of the given entries.
	SaveReviewEntries(sessionID string, entries []ReviewEntry) error

	// RemovePairs drops pairs pruned after a deletion.
	RemovePairs(sessionID string, keys []PairKey) error

	// RecordDeletion appends one deletion outcome.
	RecordDeletion(d *DeletionRecord) error

	// ListDeletions returns the most recent deletions, newest first.
	ListDeletions(limit int) ([]*DeletionRecord, error)

	// AcquireScanLock claims the scan of the roots named by key. It returns
	// ErrScanInProgress while another owner holds a lock taken at or after
	// staleBefore.
	AcquireScanLock(key, owner string, at, staleBefore time.Time) error

	// ReleaseScanLock drops the lock on key if owner still holds it.
	ReleaseScanLock(key, owner string) error

	CreateOperation(op *OperationRecord) error
	FinishOperation(id string, status string, finishedAt time.Time) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*OperationRecord, error)

	Close() error
}
