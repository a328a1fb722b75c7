package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// hashBufferSize is the read chunk used when streaming file content
// through SHA-256.
const hashBufferSize = 64 * 1024

// Kind is the fingerprint variant. It is part of the Fingerprint value, so
// fingerprints of different kinds never compare equal.
type Kind uint8

const (
	KindContentHash Kind = iota + 1
	KindSizeDate
	KindSizeOnly
)

func (k Kind) String() string {
	switch k {
	case KindContentHash:
		return "content-hash"
	case KindSizeDate:
		return "size-date"
	case KindSizeOnly:
		return "size"
	default:
		return "unknown"
	}
}

// Fingerprint is a comparable content identity. It is used directly as a
// map key by the indexer.
type Fingerprint struct {
	Kind          Kind
	Hash          [sha256.Size]byte
	Size          uint64
	CaptureTime   string
	Perceptual    uint64
	HasPerceptual bool

	// discriminator is set to the file path when an untimestamped image
	// must not match anything.
	discriminator string
}

// ContentHash builds an exact byte-identity fingerprint.
func ContentHash(sum [sha256.Size]byte) Fingerprint {
	return Fingerprint{Kind: KindContentHash, Hash: sum}
}

// SizeDate builds a size plus capture time fingerprint. An empty
// captureTime means the image carried no timestamp.
func SizeDate(size uint64, captureTime string) Fingerprint {
	return Fingerprint{Kind: KindSizeDate, Size: size, CaptureTime: captureTime}
}

// SizeOnly builds a size fingerprint.
func SizeOnly(size uint64) Fingerprint {
	return Fingerprint{Kind: KindSizeOnly, Size: size}
}

// WithPerceptual returns a copy of a SizeDate fingerprint that also
// requires an equal perceptual signature.
func (f Fingerprint) WithPerceptual(sig uint64) Fingerprint {
	f.Perceptual = sig
	f.HasPerceptual = true
	return f
}

// Unique reports whether the fingerprint was made unmatchable by the
// distinct missing-timestamp policy.
func (f Fingerprint) Unique() bool {
	return f.discriminator != ""
}

func (f Fingerprint) String() string {
	switch f.Kind {
	case KindContentHash:
		return "sha256:" + hex.EncodeToString(f.Hash[:])
	case KindSizeDate:
		s := "size-date:" + strconv.FormatUint(f.Size, 10) + "@" + f.CaptureTime
		if f.HasPerceptual {
			s += fmt.Sprintf("~%016x", f.Perceptual)
		}
		return s
	case KindSizeOnly:
		return "size:" + strconv.FormatUint(f.Size, 10)
	default:
		return "unknown"
	}
}

// ParseFingerprint decodes the text form produced by String. The
// discriminator of a unique fingerprint is not part of the text form.
func ParseFingerprint(s string) (Fingerprint, error) {
	switch {
	case strings.HasPrefix(s, "sha256:"):
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "sha256:"))
		if err != nil || len(raw) != sha256.Size {
			return Fingerprint{}, fmt.Errorf("invalid content hash fingerprint: %q", s)
		}
		var sum [sha256.Size]byte
		copy(sum[:], raw)
		return ContentHash(sum), nil

	case strings.HasPrefix(s, "size-date:"):
		sizeText, rest, ok := strings.Cut(strings.TrimPrefix(s, "size-date:"), "@")
		if !ok {
			return Fingerprint{}, fmt.Errorf("invalid size-date fingerprint: %q", s)
		}
		size, err := strconv.ParseUint(sizeText, 10, 64)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("invalid size-date fingerprint: %q", s)
		}
		if i := strings.LastIndex(rest, "~"); i >= 0 && len(rest)-i-1 == 16 {
			sig, err := strconv.ParseUint(rest[i+1:], 16, 64)
			if err == nil {
				return SizeDate(size, rest[:i]).WithPerceptual(sig), nil
			}
		}
		return SizeDate(size, rest), nil

	case strings.HasPrefix(s, "size:"):
		size, err := strconv.ParseUint(strings.TrimPrefix(s, "size:"), 10, 64)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("invalid size fingerprint: %q", s)
		}
		return SizeOnly(size), nil
	}
	return Fingerprint{}, fmt.Errorf("unknown fingerprint: %q", s)
}

// MetadataReader extracts the capture timestamp embedded in an image.
// ok is false when the file carries no usable timestamp.
type MetadataReader interface {
	CaptureTime(path *Path) (ts string, ok bool, err error)
}

// PerceptualHasher computes a 64-bit perceptual signature of an image.
type PerceptualHasher interface {
	Hash(path *Path) (uint64, error)
}

// FingerprintCache remembers content hashes between runs. Entries are
// only valid while size and modification time are unchanged.
type FingerprintCache interface {
	Get(path string, size int64, modTime time.Time) (sum [sha256.Size]byte, ok bool, err error)
	Put(path string, size int64, modTime time.Time, sum [sha256.Size]byte) error
}

// FingerprintOptions configures the optional collaborators of a
// Fingerprinter. Nil fields disable the feature.
type FingerprintOptions struct {
	Metadata         MetadataReader
	Perceptual       PerceptualHasher
	Cache            FingerprintCache
	MissingTimestamp MissingTimestampPolicy
	Logger           Logger
}

// Fingerprinter computes fingerprints for single files. It holds no
// per-scan state and is safe for concurrent use.
type Fingerprinter struct {
	fsmgr      FilesystemManager
	metadata   MetadataReader
	perceptual PerceptualHasher
	cache      FingerprintCache
	missing    MissingTimestampPolicy
	logger     Logger
}

// NewFingerprinter creates a Fingerprinter reading through fsmgr.
func NewFingerprinter(fsmgr FilesystemManager, opts FingerprintOptions) *Fingerprinter {
	logger := opts.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	missing := opts.MissingTimestamp
	if missing == "" {
		missing = MissingTimestampEqual
	}
	return &Fingerprinter{
		fsmgr:      fsmgr,
		metadata:   opts.Metadata,
		perceptual: opts.Perceptual,
		cache:      opts.Cache,
		missing:    missing,
		logger:     logger,
	}
}

// Fingerprint computes the fingerprint of path for the given class and
// mode. Read failures are returned as *FileError and the caller should
// skip the file.
func (f *Fingerprinter) Fingerprint(ctx context.Context, path *Path, class MediaClass, mode Mode) (Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return Fingerprint{}, err
	}

	switch mode {
	case ModeExact:
		sum, err := f.contentHash(path)
		if err != nil {
			return Fingerprint{}, err
		}
		return ContentHash(sum), nil
	case ModeMetadata:
		if class != ClassImage {
			return SizeOnly(path.Size()), nil
		}
		return f.sizeDate(path)
	case ModeSize:
		return SizeOnly(path.Size()), nil
	default:
		return Fingerprint{}, fmt.Errorf("unknown scan mode: %q", mode)
	}
}

func (f *Fingerprinter) contentHash(path *Path) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte

	info := path.Info()
	if f.cache != nil && info != nil {
		cached, ok, err := f.cache.Get(path.String(), info.Size(), info.ModTime())
		if err != nil {
			f.logger.Debug("fingerprint cache lookup failed", "path", path.String(), "err", err)
		} else if ok {
			return cached, nil
		}
	}

	r, err := f.fsmgr.Open(path)
	if err != nil {
		return sum, &FileError{Op: "open", Path: path.String(), Err: err}
	}
	defer r.Close()

	sum, err = sumChunks(r)
	if err != nil {
		return sum, &FileError{Op: "read", Path: path.String(), Err: err}
	}

	if f.cache != nil && info != nil {
		if err := f.cache.Put(path.String(), info.Size(), info.ModTime(), sum); err != nil {
			f.logger.Debug("fingerprint cache store failed", "path", path.String(), "err", err)
		}
	}
	return sum, nil
}

func (f *Fingerprinter) sizeDate(path *Path) (Fingerprint, error) {
	var ts string
	if f.metadata != nil {
		t, ok, err := f.metadata.CaptureTime(path)
		if err != nil {
			return Fingerprint{}, &FileError{Op: "read metadata", Path: path.String(), Err: err}
		}
		if ok {
			ts = t
		}
	}

	fp := SizeDate(path.Size(), ts)
	if ts == "" && f.missing == MissingTimestampDistinct {
		fp.discriminator = path.String()
	}

	if f.perceptual != nil {
		sig, err := f.perceptual.Hash(path)
		if err != nil {
			f.logger.Debug("perceptual hash unavailable", "path", path.String(), "err", err)
		} else {
			fp = fp.WithPerceptual(sig)
		}
	}
	return fp, nil
}

// sumChunks hashes r in hashBufferSize reads. io.Copy would hand *os.File
// its own WriterTo and read in smaller chunks.
func sumChunks(r io.Reader) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	for {
		n, err := r.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return sum, err
		}
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
