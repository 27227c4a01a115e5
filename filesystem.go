package s3fs

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zarr-developers/s3fs/internal/credentials"
	"github.com/zarr-developers/s3fs/internal/logger"
)

// Canned ACLs accepted for keys and buckets. Validated before any
// network call.
var keyACLs = map[string]bool{
	"private": true, "public-read": true, "public-read-write": true,
	"authenticated-read": true, "aws-exec-read": true,
	"bucket-owner-read": true, "bucket-owner-full-control": true,
}

var bucketACLs = map[string]bool{
	"private": true, "public-read": true, "public-read-write": true,
	"authenticated-read": true,
}

const (
	// minPartSize is the store's minimum multipart part size; block
	// sizes below it are rejected at open time for write modes.
	minPartSize = 5 * 1024 * 1024
	// maxPartSize is the store's maximum multipart part size.
	maxPartSize = 5 * 1024 * 1024 * 1024
	// maxBulkDelete is the store's per-call key limit for batch deletes.
	maxBulkDelete = 1000

	defaultBlockSize  = minPartSize
	defaultPartRetry  = 5
	defaultRetryDelay = 100 * time.Millisecond
)

// Config configures a FileSystem.
type Config struct {
	// Anon selects unsigned requests (public buckets only).
	Anon bool
	// Credentials are the static keys to sign with; nil falls back to
	// the SDK resolver chain (environment, config files, instance
	// metadata).
	Credentials *credentials.Credentials
	// Endpoint overrides the store endpoint, for S3-compatible
	// services; path-style addressing is used when set.
	Endpoint string
	Region   string
	// RequesterPays marks requests against requester-pays buckets.
	RequesterPays bool
	// VersionAware enables version-id arguments and capture of version
	// ids on commit.
	VersionAware bool
	// DefaultBlockSize is the read-ahead and multipart part size used
	// by Open when none is given. Defaults to 5 MiB.
	DefaultBlockSize int64
	// DisableFillCache makes reads outside the current window replace
	// it instead of growing it, trading re-downloads for memory.
	DisableFillCache bool
	// AbortOnWriteError aborts the multipart upload when a write fails
	// permanently. Off by default: the upload is left stranded and
	// cleanup is the caller's responsibility.
	AbortOnWriteError bool
	// FetchAttempts caps retries of a single ranged read. Default 10.
	FetchAttempts int
	// PartRetries caps retries of a single part upload. Default 5.
	PartRetries int
	// RetryDelay is slept between transient-error retries.
	RetryDelay time.Duration
	// ConnCache shares dialed clients between filesystems. Each
	// FileSystem gets a private cache when nil.
	ConnCache *ConnCache
}

func (cfg *Config) applyDefaults() {
	if cfg.DefaultBlockSize == 0 {
		cfg.DefaultBlockSize = defaultBlockSize
	}
	if cfg.FetchAttempts == 0 {
		cfg.FetchAttempts = defaultFetchAttempts
	}
	if cfg.PartRetries == 0 {
		cfg.PartRetries = defaultPartRetry
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
}

// FileSystem provides filesystem-like access to an object store:
// `bucket/key` paths, one-level cached listings, and buffered file
// handles. Mutating operations invalidate the directory cache through a
// single chokepoint; listings may be stale until then or until a
// refreshed listing is requested, but never fabricate entries.
type FileSystem struct {
	cfg   Config
	conns *ConnCache
	store ObjectStore
	pid   int

	cache *DirCache

	metaMu sync.Mutex
	meta   map[string]map[string]string
}

// New dials the object store described by cfg and returns a filesystem
// over it. Clients are cached per (credentials, endpoint, region, pid).
func New(ctx context.Context, cfg Config) (*FileSystem, error) {
	cfg.applyDefaults()
	conns := cfg.ConnCache
	if conns == nil {
		conns = NewConnCache()
	}
	pid := os.Getpid()
	store, err := conns.get(ctx, cfg, pid, false)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	logger.Debug("open S3 connection, anonymous: %t", cfg.Anon)
	return &FileSystem{
		cfg:   cfg,
		conns: conns,
		store: store,
		pid:   pid,
		cache: NewDirCache(),
		meta:  make(map[string]map[string]string),
	}, nil
}

// NewWithStore builds a filesystem over an already-constructed store.
// Used by tests and by callers that manage their own client.
func NewWithStore(store ObjectStore, cfg Config) *FileSystem {
	cfg.applyDefaults()
	return &FileSystem{
		cfg:   cfg,
		store: store,
		pid:   os.Getpid(),
		cache: NewDirCache(),
		meta:  make(map[string]map[string]string),
	}
}

// conn returns the store client, re-dialing when the filesystem is
// observed from a different process than the one that created the
// client (a forked worker must not share its parent's connection).
func (fs *FileSystem) conn(ctx context.Context) (ObjectStore, error) {
	if fs.conns == nil {
		return fs.store, nil
	}
	pid := os.Getpid()
	if pid == fs.pid && fs.store != nil {
		return fs.store, nil
	}
	store, err := fs.conns.get(ctx, fs.cfg, pid, false)
	if err != nil {
		return nil, err
	}
	fs.pid, fs.store = pid, store
	return store, nil
}

// Connect re-establishes the store client. With refresh, any cached
// client for this configuration is discarded first.
func (fs *FileSystem) Connect(ctx context.Context, refresh bool) error {
	if fs.conns == nil {
		return nil
	}
	store, err := fs.conns.get(ctx, fs.cfg, os.Getpid(), refresh)
	if err != nil {
		return err
	}
	fs.store = store
	return nil
}

// Invalidate drops the cached listing for path.
func (fs *FileSystem) Invalidate(path string) {
	fs.cache.Invalidate(normPath(path))
}

// InvalidateAll drops every cached listing and cached metadata.
func (fs *FileSystem) InvalidateAll() {
	fs.cache.InvalidateAll()
	fs.metaMu.Lock()
	fs.meta = make(map[string]map[string]string)
	fs.metaMu.Unlock()
}

func (fs *FileSystem) lsBuckets(ctx context.Context, refresh bool) ([]Entry, error) {
	if entries, ok := fs.cache.Get(""); ok && !refresh {
		return entries, nil
	}
	if fs.cfg.Anon {
		// Cannot list buckets without credentials.
		return nil, nil
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := store.ListBuckets(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	entries := make([]Entry, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, Entry{
			Name:         b.Name,
			Type:         TypeDirectory,
			StorageClass: StorageClassBucket,
			LastModified: b.Created,
		})
	}
	fs.cache.Put("", entries)
	return entries, nil
}

func (fs *FileSystem) lsDir(ctx context.Context, path string, refresh bool) ([]Entry, error) {
	path = normPath(path)
	if entries, ok := fs.cache.Get(path); ok && !refresh {
		return entries, nil
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}
	var entries []Entry
	token := ""
	for {
		page, err := store.ListObjectsV2(ctx, bucket, prefix, "/", token)
		if err != nil {
			if isPermissionErr(err) {
				return nil, opError("ls", path, translateErr(err))
			}
			if errorCode(err) == "" {
				// Transport or cancellation failure, not a store
				// verdict on the path: propagate, never cache.
				return nil, opError("ls", path, err)
			}
			// Store-coded failure (for example the bucket does not
			// exist): empty listing.
			entries = nil
			break
		}
		for _, obj := range page.Contents {
			entries = append(entries, Entry{
				Name:         bucket + "/" + obj.Key,
				Size:         obj.Size,
				Type:         TypeFile,
				ETag:         obj.ETag,
				LastModified: obj.LastModified,
				StorageClass: obj.StorageClass,
			})
		}
		for _, p := range page.CommonPrefixes {
			entries = append(entries, Entry{
				Name:         bucket + "/" + strings.TrimSuffix(p, "/"),
				Type:         TypeDirectory,
				StorageClass: StorageClassDirectory,
			})
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	fs.cache.Put(path, entries)
	return entries, nil
}

func (fs *FileSystem) ls(ctx context.Context, path string, refresh bool) ([]Entry, error) {
	if normPath(path) == "" {
		return fs.lsBuckets(ctx, refresh)
	}
	return fs.lsDir(ctx, path, refresh)
}

// Ls lists a single directory level. Listings are cached unless refresh
// is set. A file-like path with no listing of its own falls back to its
// own Info entry; a missing bucket-level path is NotFound.
func (fs *FileSystem) Ls(ctx context.Context, path string, refresh bool) ([]Entry, error) {
	path = normPath(path)
	entries, err := fs.ls(ctx, path, refresh)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, key := SplitPath(path); key != "" {
			entry, err := fs.Info(ctx, path, refresh)
			if err != nil {
				return nil, err
			}
			return []Entry{entry}, nil
		}
		if path != "" {
			return nil, opError("ls", path, ErrNotFound)
		}
	}
	return entries, nil
}

// Info returns details for the specific path, preferring the directory
// cache: either path is itself a cached single-entry listing or it
// appears in its parent's cached listing. On miss it heads the object;
// any head failure surfaces as NotFound.
func (fs *FileSystem) Info(ctx context.Context, path string, refresh bool) (Entry, error) {
	return fs.info(ctx, path, "", refresh)
}

// InfoVersion is Info against an explicit object version. Requires a
// version-aware filesystem.
func (fs *FileSystem) InfoVersion(ctx context.Context, path, versionID string, refresh bool) (Entry, error) {
	if versionID != "" && !fs.cfg.VersionAware {
		return Entry{}, fmt.Errorf("%w: version_id requires a version aware filesystem", ErrInvalidArgument)
	}
	return fs.info(ctx, path, versionID, refresh)
}

func (fs *FileSystem) info(ctx context.Context, path, versionID string, refresh bool) (Entry, error) {
	path = normPath(path)
	if !refresh {
		if entries, ok := fs.cache.Get(path); ok && len(entries) == 1 {
			return entries[0], nil
		}
		if entries, ok := fs.cache.Get(ParentPath(path)); ok {
			for _, e := range entries {
				if e.Name == path {
					return e, nil
				}
			}
		}
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return Entry{}, err
	}
	bucket, key := SplitPath(path)
	info, err := store.HeadObject(ctx, bucket, key, HeadOptions{VersionID: versionID})
	if err != nil {
		logger.Debug("failed to head %s: %v", path, err)
		return Entry{}, opError("info", path, fmt.Errorf("%w: %w", ErrNotFound, err))
	}
	return Entry{
		Name:         JoinPath(bucket, key),
		Size:         info.Size,
		Type:         TypeFile,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		VersionID:    info.VersionID,
		StorageClass: "STANDARD",
	}, nil
}

// Exists reports whether path denotes a reachable bucket, key or prefix.
func (fs *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	path = normPath(path)
	if path == "" {
		return true, nil
	}
	if _, key := SplitPath(path); key == "" {
		if buckets, err := fs.lsBuckets(ctx, false); err == nil {
			for _, b := range buckets {
				if b.Name == path {
					return true, nil
				}
			}
		}
		// Not in the bucket listing (or listing unavailable, as for
		// anonymous access): an empty bucket is indistinguishable from a
		// missing one here.
		entries, err := fs.ls(ctx, path, false)
		if err != nil {
			return false, err
		}
		return len(entries) > 0, nil
	}
	if _, err := fs.Info(ctx, path, false); err != nil {
		if isNotFoundErr(err) {
			// A prefix with children exists even without its own key.
			entries, lsErr := fs.ls(ctx, path, false)
			if lsErr != nil {
				return false, lsErr
			}
			return len(entries) > 0, nil
		}
		return false, err
	}
	return true, nil
}

// Touch creates an empty key at path.
func (fs *FileSystem) Touch(ctx context.Context, path, acl string) error {
	if acl != "" && !keyACLs[acl] {
		return fmt.Errorf("%w: ACL %q not in canned key ACLs", ErrInvalidArgument, acl)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if _, err := store.PutObject(ctx, bucket, key, nil, PutOptions{ACL: acl}); err != nil {
		return opError("touch", path, translateErr(err))
	}
	fs.cache.InvalidateChanged(path)
	return nil
}

// Mkdir creates a bucket for a top-level path, or an empty directory
// marker key below one.
func (fs *FileSystem) Mkdir(ctx context.Context, path, acl string) error {
	path = normPath(path)
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if key != "" {
		if _, err := store.PutObject(ctx, bucket, key+"/", nil, PutOptions{}); err != nil {
			return opError("mkdir", path, translateErr(err))
		}
		fs.cache.InvalidateChanged(path)
		return nil
	}
	if acl != "" && !bucketACLs[acl] {
		return fmt.Errorf("%w: ACL %q not in canned bucket ACLs", ErrInvalidArgument, acl)
	}
	if err := store.CreateBucket(ctx, bucket, fs.cfg.Region, acl); err != nil {
		return opError("bucket create", path, translateErr(err))
	}
	fs.cache.Invalidate("")
	fs.cache.Invalidate(path)
	return nil
}

// Rmdir removes a directory marker key, or deletes the bucket for a
// top-level path.
func (fs *FileSystem) Rmdir(ctx context.Context, path string) error {
	path = normPath(path)
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if key != "" {
		if err := store.DeleteObject(ctx, bucket, key+"/"); err != nil {
			return opError("rmdir", path, translateErr(err))
		}
		fs.cache.InvalidateChanged(path)
		return nil
	}
	if err := store.DeleteBucket(ctx, bucket); err != nil {
		return opError("bucket delete", path, translateErr(err))
	}
	fs.cache.Invalidate(path)
	fs.cache.Invalidate("")
	return nil
}

// walkKeys lists every key under path (no delimiter), as full
// bucket/key names. Directory marker keys are included.
func (fs *FileSystem) walkKeys(ctx context.Context, path string) ([]string, error) {
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}
	var keys []string
	token := ""
	for {
		page, err := store.ListObjectsV2(ctx, bucket, prefix, "", token)
		if err != nil {
			return nil, opError("walk", path, translateErr(err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, bucket+"/"+obj.Key)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return keys, nil
}

// Walk returns every file under path, recursively. Walking the
// unbounded root is rejected.
func (fs *FileSystem) Walk(ctx context.Context, path string) ([]string, error) {
	if normPath(path) == "" {
		return nil, fmt.Errorf("%w: cannot walk all of the store, give a bucket", ErrInvalidArgument)
	}
	keys, err := fs.walkKeys(ctx, path)
	if err != nil {
		return nil, err
	}
	files := keys[:0]
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			files = append(files, k)
		}
	}
	return files, nil
}

// BulkDelete removes up to any number of keys, batched into store calls
// of at most 1000. All keys must live in one bucket.
func (fs *FileSystem) BulkDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	buckets := make(map[string]bool)
	keys := make([]string, len(paths))
	var bucket string
	for i, p := range paths {
		b, k := SplitPath(p)
		buckets[b] = true
		bucket, keys[i] = b, k
	}
	if len(buckets) > 1 {
		return fmt.Errorf("%w: bulk delete spans multiple buckets", ErrInvalidArgument)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	for i := 0; i < len(keys); i += maxBulkDelete {
		end := min(i+maxBulkDelete, len(keys))
		if err := store.DeleteObjects(ctx, bucket, keys[i:end]); err != nil {
			return opError("bulk delete", bucket, translateErr(err))
		}
	}
	for _, p := range paths {
		fs.cache.InvalidateChanged(p)
	}
	return nil
}

// Rm removes a key, or a whole subtree with recursive. Removing a
// bucket path deletes the bucket once it is empty.
func (fs *FileSystem) Rm(ctx context.Context, path string, recursive bool) error {
	path = normPath(path)
	ok, err := fs.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return opError("rm", path, ErrNotFound)
	}
	if recursive {
		fs.cache.Invalidate(path)
		keys, err := fs.walkKeys(ctx, path)
		if err != nil {
			return err
		}
		if err := fs.BulkDelete(ctx, keys); err != nil {
			return err
		}
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if key != "" {
		if err := store.DeleteObject(ctx, bucket, key); err != nil {
			return opError("rm", path, translateErr(err))
		}
		fs.cache.InvalidateChanged(path)
		return nil
	}
	page, err := store.ListObjectsV2(ctx, bucket, "", "", "")
	if err != nil {
		return opError("rm", path, translateErr(err))
	}
	if len(page.Contents) > 0 {
		return opError("rm", path, fmt.Errorf("bucket not empty"))
	}
	if err := store.DeleteBucket(ctx, bucket); err != nil {
		return opError("bucket delete", path, translateErr(err))
	}
	fs.cache.Invalidate(bucket)
	fs.cache.Invalidate("")
	return nil
}

// CopyBasic copies src to dst with a single server-side copy call.
// Limited to objects the store will copy in one request.
func (fs *FileSystem) CopyBasic(ctx context.Context, src, dst string) error {
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	srcBucket, srcKey := SplitPath(src)
	dstBucket, dstKey := SplitPath(dst)
	if err := store.CopyObject(ctx, srcBucket, srcKey, dstBucket, dstKey, CopyOptions{}); err != nil {
		return opError("copy", src+" -> "+dst, translateErr(err))
	}
	fs.cache.InvalidateChanged(dst)
	return nil
}

// Copy copies src to dst, switching to server-side multipart part copy
// for objects at or above the multipart threshold. No object data moves
// through the client either way.
func (fs *FileSystem) Copy(ctx context.Context, src, dst string) error {
	info, err := fs.Info(ctx, src, false)
	if err != nil {
		return err
	}
	if info.Size < minPartSize {
		return fs.CopyBasic(ctx, src, dst)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	srcPath := normPath(src)
	dstBucket, dstKey := SplitPath(dst)
	uploadID, err := store.CreateMultipartUpload(ctx, dstBucket, dstKey, PutOptions{})
	if err != nil {
		return opError("copy", dst, translateErr(err))
	}
	partSize := fs.cfg.DefaultBlockSize
	var parts []CompletedPart
	for start := int64(0); start < info.Size; start += partSize {
		end := min(start+partSize, info.Size)
		num := int32(len(parts) + 1)
		etag, err := store.UploadPartCopy(ctx, dstBucket, dstKey, uploadID, num,
			srcPath, &ByteRange{Start: start, End: end})
		if err != nil {
			fs.maybeAbort(ctx, store, dstBucket, dstKey, uploadID)
			return opError("copy", dst, translateErr(err))
		}
		parts = append(parts, CompletedPart{PartNumber: num, ETag: etag})
	}
	if _, err := store.CompleteMultipartUpload(ctx, dstBucket, dstKey, uploadID, parts); err != nil {
		fs.maybeAbort(ctx, store, dstBucket, dstKey, uploadID)
		return opError("copy", dst, translateErr(err))
	}
	fs.cache.InvalidateChanged(dst)
	return nil
}

// Mv moves src to dst as copy followed by delete. Not atomic.
func (fs *FileSystem) Mv(ctx context.Context, src, dst string) error {
	if err := fs.Copy(ctx, src, dst); err != nil {
		return err
	}
	return fs.Rm(ctx, src, false)
}

// Merge assembles path from an ordered list of existing objects using
// server-side part copies: no object data moves through the client. The
// sources are not deleted. Every source except possibly the last must
// satisfy the store's minimum part size.
func (fs *FileSystem) Merge(ctx context.Context, path string, sources []string) error {
	if len(sources) == 0 {
		return fmt.Errorf("%w: merge needs at least one source", ErrInvalidArgument)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	uploadID, err := store.CreateMultipartUpload(ctx, bucket, key, PutOptions{})
	if err != nil {
		return opError("merge", path, translateErr(err))
	}
	parts := make([]CompletedPart, 0, len(sources))
	for i, src := range sources {
		num := int32(i + 1)
		etag, err := store.UploadPartCopy(ctx, bucket, key, uploadID, num, normPath(src), nil)
		if err != nil {
			fs.maybeAbort(ctx, store, bucket, key, uploadID)
			return opError("merge", path, translateErr(err))
		}
		parts = append(parts, CompletedPart{PartNumber: num, ETag: etag})
	}
	if _, err := store.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts); err != nil {
		fs.maybeAbort(ctx, store, bucket, key, uploadID)
		return opError("merge", path, translateErr(err))
	}
	fs.cache.InvalidateChanged(path)
	return nil
}

func (fs *FileSystem) maybeAbort(ctx context.Context, store ObjectStore, bucket, key, uploadID string) {
	if !fs.cfg.AbortOnWriteError {
		return
	}
	if err := store.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		logger.Warn("abort multipart upload %s/%s: %v", bucket, key, err)
	}
}

// Du returns the per-file sizes of everything under path.
func (fs *FileSystem) Du(ctx context.Context, path string, refresh bool) (map[string]int64, error) {
	files, err := fs.Walk(ctx, path)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(files))
	for _, f := range files {
		info, err := fs.Info(ctx, f, refresh)
		if err != nil {
			return nil, err
		}
		sizes[f] = info.Size
	}
	return sizes, nil
}

// DuTotal returns the summed size of everything under path.
func (fs *FileSystem) DuTotal(ctx context.Context, path string) (int64, error) {
	sizes, err := fs.Du(ctx, path, false)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total, nil
}

var globMagic = regexp.MustCompile(`[*?\[]`)

// Glob returns the paths matching a shell-style pattern, searched over a
// recursive walk of the pattern's literal prefix. `*` and `?` match any
// character including `/`.
func (fs *FileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	pattern = normPath(pattern)
	loc := globMagic.FindStringIndex(pattern)
	if loc == nil {
		ok, err := fs.Exists(ctx, pattern)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{pattern}, nil
		}
		return nil, nil
	}
	root := pattern[:loc[0]]
	if i := strings.LastIndex(root, "/"); i >= 0 {
		root = root[:i]
	}
	if root == "" {
		return nil, fmt.Errorf("%w: glob pattern must include a bucket", ErrInvalidArgument)
	}
	files, err := fs.Walk(ctx, root)
	if err != nil {
		return nil, err
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad glob pattern %q", ErrInvalidArgument, pattern)
	}
	var matches []string
	for _, f := range files {
		if re.MatchString(f) {
			matches = append(matches, f)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Metadata returns the user metadata of path. Cached unless refresh.
func (fs *FileSystem) Metadata(ctx context.Context, path string, refresh bool) (map[string]string, error) {
	path = normPath(path)
	if !refresh {
		fs.metaMu.Lock()
		cached, ok := fs.meta[path]
		fs.metaMu.Unlock()
		if ok {
			return cached, nil
		}
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	info, err := store.HeadObject(ctx, bucket, key, HeadOptions{})
	if err != nil {
		return nil, opError("metadata", path, translateErr(err))
	}
	meta := info.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	fs.metaMu.Lock()
	fs.meta[path] = meta
	fs.metaMu.Unlock()
	return meta, nil
}

// GetXattr returns one attribute from the metadata of path, or "" when
// absent.
func (fs *FileSystem) GetXattr(ctx context.Context, path, name string) (string, error) {
	meta, err := fs.Metadata(ctx, path, false)
	if err != nil {
		return "", err
	}
	return meta[name], nil
}

// SetXattr updates user metadata on path with a copy-in-place
// (MetadataDirective=REPLACE). Existing fields are kept unless named in
// attrs; an empty value deletes the field.
func (fs *FileSystem) SetXattr(ctx context.Context, path string, attrs map[string]string) error {
	meta, err := fs.Metadata(ctx, path, false)
	if err != nil {
		return err
	}
	merged := make(map[string]string, len(meta)+len(attrs))
	for k, v := range meta {
		merged[k] = v
	}
	for k, v := range attrs {
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if err := store.CopyObject(ctx, bucket, key, bucket, key, CopyOptions{Metadata: merged}); err != nil {
		return opError("setxattr", path, translateErr(err))
	}
	fs.metaMu.Lock()
	fs.meta[normPath(path)] = merged
	fs.metaMu.Unlock()
	return nil
}

// TagMode selects how PutTags treats existing tags.
type TagMode string

const (
	// TagOverwrite replaces the full tag set.
	TagOverwrite TagMode = "o"
	// TagMerge folds new tags into the existing set; costs an extra
	// remote call.
	TagMerge TagMode = "m"
)

// GetTags returns the tag set of path.
func (fs *FileSystem) GetTags(ctx context.Context, path string) (map[string]string, error) {
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	tags, err := store.GetObjectTagging(ctx, bucket, key)
	if err != nil {
		return nil, opError("get tags", path, translateErr(err))
	}
	return tags, nil
}

// PutTags sets tags on an existing key, overwriting or merging per mode.
func (fs *FileSystem) PutTags(ctx context.Context, path string, tags map[string]string, mode TagMode) error {
	switch mode {
	case TagOverwrite:
	case TagMerge:
		existing, err := fs.GetTags(ctx, path)
		if err != nil {
			return err
		}
		for k, v := range tags {
			existing[k] = v
		}
		tags = existing
	default:
		return fmt.Errorf("%w: tag mode must be %q or %q", ErrInvalidArgument, TagOverwrite, TagMerge)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	bucket, key := SplitPath(path)
	if err := store.PutObjectTagging(ctx, bucket, key, tags); err != nil {
		return opError("put tags", path, translateErr(err))
	}
	return nil
}

// Chmod applies a canned ACL to a bucket or key. The ACL is validated
// against the canned set before any network call.
func (fs *FileSystem) Chmod(ctx context.Context, path, acl string) error {
	bucket, key := SplitPath(path)
	if key != "" {
		if !keyACLs[acl] {
			return fmt.Errorf("%w: ACL %q not in canned key ACLs", ErrInvalidArgument, acl)
		}
	} else if !bucketACLs[acl] {
		return fmt.Errorf("%w: ACL %q not in canned bucket ACLs", ErrInvalidArgument, acl)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return err
	}
	if key != "" {
		if err := store.PutObjectACL(ctx, bucket, key, acl); err != nil {
			return opError("chmod", path, translateErr(err))
		}
		return nil
	}
	if err := store.PutBucketACL(ctx, bucket, acl); err != nil {
		return opError("chmod", path, translateErr(err))
	}
	return nil
}

// URL generates a presigned HTTP URL for reading path.
func (fs *FileSystem) URL(ctx context.Context, path string, expires time.Duration) (string, error) {
	store, err := fs.conn(ctx)
	if err != nil {
		return "", err
	}
	bucket, key := SplitPath(path)
	url, err := store.PresignGetObject(ctx, bucket, key, expires)
	if err != nil {
		return "", opError("url", path, translateErr(err))
	}
	return url, nil
}

// ObjectVersions lists all versions of a key. Requires a version-aware
// filesystem.
func (fs *FileSystem) ObjectVersions(ctx context.Context, path string) ([]ObjectVersion, error) {
	if !fs.cfg.VersionAware {
		return nil, fmt.Errorf("%w: version specific functionality is disabled for non-version aware filesystems", ErrInvalidArgument)
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	versions, err := store.ListObjectVersions(ctx, bucket, key)
	if err != nil {
		return nil, opError("versions", path, translateErr(err))
	}
	return versions, nil
}
