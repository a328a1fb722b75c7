package trash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"medup/internal/dedup"
)

// S3API is the subset of the S3 client used by S3Trash.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options locates the bucket and credentials for an S3Trash.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Trash uploads trashed files to a bucket and removes the local copy
// only after the upload succeeds. Objects are laid out as
// <prefix>files/<id> and <prefix>info/<id>.json.
type S3Trash struct {
	client    S3API
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	encryptor dedup.Encryptor
	clock     dedup.Clock
	idgen     dedup.IDGenerator
	logger    dedup.Logger
}

// NewS3Client builds an S3 client from the default AWS config chain,
// optionally pinned to static credentials and a custom endpoint.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// NewS3Trash creates an S3Trash over client. logger may be nil.
func NewS3Trash(client S3API, bucket, prefix string, encryptor dedup.Encryptor, clock dedup.Clock, idgen dedup.IDGenerator, logger dedup.Logger) *S3Trash {
	if logger == nil {
		logger = dedup.NewNopLogger()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Trash{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    bucket,
		prefix:    prefix,
		encryptor: encryptor,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
	}
}

func (t *S3Trash) contentKey(id string) string {
	return t.prefix + "files/" + id
}

func (t *S3Trash) infoKey(id string) string {
	return t.prefix + "info/" + id + ".json"
}

func (t *S3Trash) MoveToTrash(ctx context.Context, p string) (*dedup.TrashItem, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", p)
	}

	item := &dedup.TrashItem{
		ID:           t.idgen.New(),
		OriginalPath: p,
		Size:         info.Size(),
		DeletedAt:    t.clock.Now().UTC(),
		Encrypted:    t.encryptor != nil,
	}

	var body io.Reader = f
	if t.encryptor != nil {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(t.encryptor.Encrypt(f, pw))
		}()
		defer pr.Close()
		body = pr
	}

	if _, err := t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.contentKey(item.ID)),
		Body:   body,
	}); err != nil {
		return nil, fmt.Errorf("uploading %s: %w", p, err)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encoding info record: %w", err)
	}
	if _, err := t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(t.bucket),
		Key:         aws.String(t.infoKey(item.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		t.deleteObject(ctx, t.contentKey(item.ID))
		return nil, fmt.Errorf("uploading info record: %w", err)
	}

	if err := os.Remove(p); err != nil {
		return nil, fmt.Errorf("removing %s after upload: %w", p, err)
	}
	return item, nil
}

func (t *S3Trash) List(ctx context.Context) ([]*dedup.TrashItem, error) {
	var items []*dedup.TrashItem
	pager := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(t.prefix + "info/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing trash objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			id := strings.TrimSuffix(path.Base(key), ".json")
			item, err := t.readInfo(ctx, id)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
	}
	sortItems(items)
	return items, nil
}

func (t *S3Trash) Restore(ctx context.Context, id string, dec dedup.DecryptionContext) (*dedup.TrashItem, error) {
	item, err := t.readInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Encrypted && dec == nil {
		return nil, fmt.Errorf("trash item %s is encrypted: passphrase required", id)
	}
	if _, err := os.Lstat(item.OriginalPath); err == nil {
		return nil, fmt.Errorf("refusing to overwrite existing file: %s", item.OriginalPath)
	}
	if err := os.MkdirAll(filepath.Dir(item.OriginalPath), 0755); err != nil {
		return nil, fmt.Errorf("recreating parent directory: %w", err)
	}

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.contentKey(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", id, err)
	}
	defer out.Body.Close()

	err = writeFileAtomic(item.OriginalPath, func(w io.Writer) error {
		if item.Encrypted {
			return dec.Decrypt(out.Body, w)
		}
		_, err := io.Copy(w, out.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", item.OriginalPath, err)
	}

	t.deleteObject(ctx, t.contentKey(id))
	t.deleteObject(ctx, t.infoKey(id))
	return item, nil
}

// ValidateSetup checks that the bucket exists and is reachable.
func (t *S3Trash) ValidateSetup() error {
	if _, err := t.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(t.bucket),
	}); err != nil {
		return fmt.Errorf("trash bucket %s not accessible: %w", t.bucket, err)
	}
	return nil
}

func (t *S3Trash) readInfo(ctx context.Context, id string) (*dedup.TrashItem, error) {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.infoKey(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("trash item not found: %s: %w", id, err)
	}
	defer out.Body.Close()

	var item dedup.TrashItem
	if err := json.NewDecoder(out.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding info record %s: %w", id, err)
	}
	return &item, nil
}

// deleteObject is best effort. A failure leaves an orphaned object that
// List no longer reaches, so it is logged with its key for manual cleanup.
func (t *S3Trash) deleteObject(ctx context.Context, key string) {
	if _, err := t.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	}); err != nil {
		t.logger.Warn("deleting trash object failed", "bucket", t.bucket, "key", key, "err", err)
	}
}

var _ dedup.Trash = (*S3Trash)(nil)
