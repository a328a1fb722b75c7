package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medup/internal/cache"
	"medup/internal/config"
	"medup/internal/database"
	"medup/internal/dedup"
	"medup/internal/encryption"
	"medup/internal/fs"
	"medup/internal/metadata"
	"medup/internal/rename"
	"medup/internal/report"
	"medup/internal/similar"
	"medup/internal/trash"
	"medup/internal/treediff"
)

// MedupApp is the application layer between the CLI and DedupService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, and manages resource lifecycles on Close.
type MedupApp struct {
	cfg       *config.Config
	db        dedup.Database
	trash     dedup.Trash
	fsmgr     *fs.OSFilesystemManager
	encryptor dedup.Encryptor
	cache     cache.Cache
	service   *dedup.DedupService
	tagger    *metadata.ExifToolWriter
	renamer   *rename.Renamer
	differ    *treediff.Differ
	logger    dedup.Logger
	clock     dedup.Clock
	idgen     dedup.IDGenerator
	op        *Operation
	logFile   *os.File
}

// NewMedupApp creates a fully wired MedupApp from the given config.
// operation identifies the CLI command being run (e.g. "Scan", "Apply").
// The caller must call Close when done.
func NewMedupApp(ctx context.Context, cfg *config.Config, operation string) (*MedupApp, error) {
	mode, err := dedup.ParseMode(cfg.Scan.Mode)
	if err != nil {
		return nil, fmt.Errorf("scan.mode: %w", err)
	}
	missing, err := dedup.ParseMissingTimestampPolicy(cfg.Scan.MissingTimestamp)
	if err != nil {
		return nil, fmt.Errorf("scan.missing_timestamp: %w", err)
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	clock := dedup.RealClock{}
	idgen := dedup.UUIDGenerator{}
	fsmgr := fs.NewOSFilesystemManager(cfg.Filesystem.Ignore)

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if mc, ok := db.(interface{ CheckMigrations() error }); ok {
		if err := mc.CheckMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("database schema out of date: %w", err)
		}
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		db.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	tr, err := trash.NewTrashFromConfig(ctx, cfg.Trash, enc, clock, idgen, logger)
	if err != nil {
		logFile.Close()
		db.Close()
		return nil, fmt.Errorf("creating trash: %w", err)
	}

	c, err := cache.NewCacheFromConfig(cfg.Cache)
	if err != nil {
		logFile.Close()
		db.Close()
		return nil, fmt.Errorf("opening fingerprint cache: %w", err)
	}

	var hasher dedup.PerceptualHasher
	if cfg.Scan.Perceptual {
		hasher = similar.NewImageHasher(fsmgr)
	}
	fp := dedup.NewFingerprinter(fsmgr, dedup.FingerprintOptions{
		Metadata:         metadata.NewExifReader(fsmgr, logger),
		Perceptual:       hasher,
		Cache:            c,
		MissingTimestamp: missing,
		Logger:           logger,
	})
	indexer := dedup.NewIndexer(fsmgr, fp, dedup.IndexOptions{
		Workers: cfg.Scan.Workers,
		MinSize: cfg.Scan.MinSize,
	}, logger)

	var oracle dedup.SimilarityOracle
	if cfg.Scan.Similarity {
		oracle = similar.NewOracle(fsmgr, similar.NewImageHasher(fsmgr), similar.Options{
			Threshold: cfg.Scan.SimilarityThreshold,
			Workers:   cfg.Scan.Workers,
		}, logger)
	}
	matcher := dedup.NewMatcher(oracle, logger)
	executor := dedup.NewExecutor(tr, fsmgr, cfg.Scan.DeleteWorkers, logger)

	svc := dedup.NewDedupService(db, tr, fsmgr, indexer, matcher, executor, logger, clock, idgen)
	logger.Debug("app initialized", "operation", operation, "mode", string(mode), "trash", cfg.Trash.Type)

	return &MedupApp{
		cfg:       cfg,
		db:        db,
		trash:     tr,
		fsmgr:     fsmgr,
		encryptor: enc,
		cache:     c,
		service:   svc,
		tagger:    metadata.NewExifToolWriter(cfg.ExifTool.Path, logger),
		renamer:   rename.NewRenamer(logger),
		differ:    treediff.New(fsmgr, fp, cfg.Scan.Workers, logger),
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		op:        NewOperation(operation),
		logFile:   logFile,
	}, nil
}

// InitKeys generates the trash encryption key pair, protecting the private
// key with passphrase.
func InitKeys(cfg *config.Config, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist at %s", cfg.Encryption.PrivateKeyPath)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}

// persistOperation records the operation in the database. Only commands
// that change state call it.
func (a *MedupApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	rec := a.op.Start(a.idgen.New(), parameters, a.clock.Now())
	if err := a.db.CreateOperation(rec); err != nil {
		a.op.ID = ""
		return fmt.Errorf("persisting operation: %w", err)
	}
	return nil
}

// track marks the operation failed when err is set.
func (a *MedupApp) track(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Scan indexes one or two roots and starts a fresh review session. An empty
// mode falls back to the configured one.
func (a *MedupApp) Scan(ctx context.Context, roots []string, mode string) (*dedup.ScanResult, error) {
	if mode == "" {
		mode = a.cfg.Scan.Mode
	}
	m, err := dedup.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	if err := a.persistOperation(strings.Join(roots, " ")); err != nil {
		return nil, err
	}
	res, err := a.service.Scan(ctx, dedup.ScanRequest{Roots: roots, Mode: m})
	return res, a.track(err)
}

// Session returns the current review session.
func (a *MedupApp) Session() (*dedup.Session, error) {
	return a.service.Session()
}

// Mark sets or clears the deletion flag on one side of pair n (1-based).
func (a *MedupApp) Mark(n int, side string, value bool) (dedup.ReviewEntry, error) {
	s, err := dedup.ParseSide(side)
	if err != nil {
		return dedup.ReviewEntry{}, err
	}
	return a.service.Mark(n, s, value)
}

// Toggle flips the deletion flag on one side of pair n (1-based).
func (a *MedupApp) Toggle(n int, side string) (dedup.ReviewEntry, error) {
	s, err := dedup.ParseSide(side)
	if err != nil {
		return dedup.ReviewEntry{}, err
	}
	return a.service.Toggle(n, s)
}

// SetAll sets or clears one side of every pair.
func (a *MedupApp) SetAll(side string, value bool) (int, error) {
	s, err := dedup.ParseSide(side)
	if err != nil {
		return 0, err
	}
	return a.service.SetAll(s, value)
}

// Approved lists the paths marked for deletion.
func (a *MedupApp) Approved() ([]dedup.Approval, error) {
	return a.service.Approved()
}

// Apply moves every approved path to the trash. Cached hashes of removed
// files are dropped.
func (a *MedupApp) Apply(ctx context.Context) (*dedup.ApplyResult, error) {
	if err := a.persistOperation(""); err != nil {
		return nil, err
	}
	res, err := a.service.Apply(ctx)
	if res != nil && len(res.Succeeded) > 0 {
		if cerr := a.cache.Delete(res.Succeeded...); cerr != nil {
			a.logger.Warn("pruning fingerprint cache", "err", cerr)
		}
	}
	if res != nil && len(res.Failed) > 0 {
		a.op.Fail()
	}
	return res, a.track(err)
}

// Report writes the current session to w.
func (a *MedupApp) Report(w io.Writer, format string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	session, err := a.service.Session()
	if err != nil {
		return err
	}
	return report.Write(w, session, f)
}

// ListTrash returns the items held in the trash.
func (a *MedupApp) ListTrash(ctx context.Context) ([]*dedup.TrashItem, error) {
	return a.service.ListTrash(ctx)
}

// RestoreTrash puts a trashed item back. passphrase is only asked for when
// the item is encrypted.
func (a *MedupApp) RestoreTrash(ctx context.Context, id string, passphrase func() (string, error)) (*dedup.TrashItem, error) {
	if err := a.persistOperation(id); err != nil {
		return nil, err
	}

	items, err := a.service.ListTrash(ctx)
	if err != nil {
		return nil, a.track(err)
	}
	var target *dedup.TrashItem
	for _, it := range items {
		if it.ID == id {
			target = it
			break
		}
	}
	if target == nil {
		return nil, a.track(fmt.Errorf("trash item not found: %s", id))
	}

	var dec dedup.DecryptionContext
	if target.Encrypted {
		pass, err := passphrase()
		if err != nil {
			return nil, a.track(fmt.Errorf("reading passphrase: %w", err))
		}
		dec, err = a.encryptor.Unlock(pass)
		if err != nil {
			return nil, a.track(fmt.Errorf("unlocking private key: %w", err))
		}
	}
	item, err := a.service.RestoreTrash(ctx, id, dec)
	return item, a.track(err)
}

// TagFiles writes ts as the capture time of every path.
func (a *MedupApp) TagFiles(ctx context.Context, ts string, rawPaths []string) (*metadata.TagResult, error) {
	paths := make([]string, len(rawPaths))
	for i, raw := range rawPaths {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		paths[i] = abs
	}
	if err := a.persistOperation(ts + " " + strings.Join(paths, " ")); err != nil {
		return nil, err
	}
	res, err := metadata.TagFiles(ctx, a.tagger, paths, ts)
	if res != nil && len(res.Failed) > 0 {
		a.op.Fail()
	}
	return res, a.track(err)
}

// Renumber reverses the numbering of the images in dir. With dryRun the
// plan is returned without touching any file.
func (a *MedupApp) Renumber(rawDir string, dryRun bool) (*rename.Plan, error) {
	dir, err := a.fsmgr.Resolve(rawDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if !dir.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir.String())
	}
	plan, err := rename.ReverseNumbered(dir.String())
	if err != nil {
		return nil, err
	}
	if dryRun {
		return plan, nil
	}
	if err := a.persistOperation(dir.String()); err != nil {
		return nil, err
	}
	return plan, a.track(a.renamer.Apply(plan))
}

// Diff compares two trees by relative path and content. It changes no
// state and is not recorded in the history.
func (a *MedupApp) Diff(ctx context.Context, rawLeft, rawRight string) (*treediff.Result, error) {
	left, err := a.fsmgr.Resolve(rawLeft)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	right, err := a.fsmgr.Resolve(rawRight)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.differ.Diff(ctx, left, right)
}

// FindByPrefix lists the files under root whose names start with prefix.
func (a *MedupApp) FindByPrefix(ctx context.Context, rawRoot, prefix string) ([]string, error) {
	root, err := a.fsmgr.Resolve(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	found, err := a.fsmgr.FindByPrefix(ctx, root, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(found))
	for i, p := range found {
		out[i] = p.String()
	}
	return out, nil
}

// GetHistory returns the most recent operations.
func (a *MedupApp) GetHistory(limit int) ([]*dedup.OperationRecord, error) {
	return a.service.GetHistory(limit)
}

// GetDeletions returns the most recent deletion outcomes.
func (a *MedupApp) GetDeletions(limit int) ([]*dedup.DeletionRecord, error) {
	return a.service.GetDeletions(limit)
}

// Close finalizes the operation record and closes all resources.
func (a *MedupApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status, a.clock.Now().UTC()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.cache.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing fingerprint cache: %w", err)
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
