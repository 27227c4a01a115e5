package s3fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/zarr-developers/s3fs/internal/logger"
)

// OpenOptions tune a single Open call. Zero values fall back to the
// filesystem configuration.
type OpenOptions struct {
	// BlockSize is the read-ahead window and multipart part size.
	BlockSize int64
	// FillCache overrides the filesystem default for window growth on
	// backward or forward jumps.
	FillCache *bool
	// ACL is the canned ACL applied when the written object is created.
	ACL string
	// VersionID pins reads to one object version. Requires a
	// version-aware filesystem.
	VersionID string
}

// File is a buffered handle on one object, open for either reading or
// writing, never both.
//
// Reads keep a single contiguous byte window and serve from it,
// extending or replacing it block-wise as the read position moves.
// Writes accumulate in memory and spill to multipart upload parts of
// exactly one block once the buffer crosses the block size; the object
// does not exist (or keeps its old content) until Commit.
//
// A File is not safe for concurrent use. Operations run under the
// context passed to Open.
type File struct {
	fs   *FileSystem
	ctx  context.Context
	path string

	bucket, key string
	mode        string
	blockSize   int64
	fillCache   bool
	acl         string
	versionID   string

	loc  int64
	size int64

	// read window [start, end); start < 0 means no window yet
	start, end int64
	cache      []byte

	// write state
	buffer      *bytes.Buffer
	uploadID    string
	parts       []CompletedPart
	appendBlock bool
	committed   bool
	closed      bool
}

// Open opens path for reading ("rb"), writing ("wb") or appending
// ("ab"). The bare forms "r", "w", "a" are accepted. opts may be nil.
func (fs *FileSystem) Open(ctx context.Context, path, mode string, opts *OpenOptions) (*File, error) {
	switch mode {
	case "r", "w", "a":
		mode += "b"
	case "rb", "wb", "ab":
	default:
		return nil, fmt.Errorf("%w: mode %q not supported, use rb, wb or ab", ErrInvalidArgument, mode)
	}
	if opts == nil {
		opts = &OpenOptions{}
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = fs.cfg.DefaultBlockSize
	}
	if mode != "rb" && (blockSize < minPartSize || blockSize > maxPartSize) {
		return nil, fmt.Errorf("%w: block size %d outside the allowed part size range", ErrInvalidArgument, blockSize)
	}
	if opts.ACL != "" && !keyACLs[opts.ACL] {
		return nil, fmt.Errorf("%w: ACL %q not in canned key ACLs", ErrInvalidArgument, opts.ACL)
	}
	if opts.VersionID != "" {
		if !fs.cfg.VersionAware {
			return nil, fmt.Errorf("%w: version_id requires a version aware filesystem", ErrInvalidArgument)
		}
		if mode != "rb" {
			return nil, fmt.Errorf("%w: version_id is only valid for reading", ErrInvalidArgument)
		}
	}
	fillCache := !fs.cfg.DisableFillCache
	if opts.FillCache != nil {
		fillCache = *opts.FillCache
	}
	bucket, key := SplitPath(path)
	f := &File{
		fs:        fs,
		ctx:       ctx,
		path:      normPath(path),
		bucket:    bucket,
		key:       key,
		mode:      mode,
		blockSize: blockSize,
		fillCache: fillCache,
		acl:       opts.ACL,
		versionID: opts.VersionID,
		start:     -1,
	}
	switch mode {
	case "rb":
		info, err := fs.InfoVersion(ctx, f.path, opts.VersionID, false)
		if err != nil {
			return nil, err
		}
		f.size = info.Size
		if fs.cfg.VersionAware && f.versionID == "" {
			f.versionID = info.VersionID
		}
	case "wb":
		f.buffer = &bytes.Buffer{}
	case "ab":
		f.buffer = &bytes.Buffer{}
		info, err := fs.Info(ctx, f.path, true)
		if err != nil {
			if !isNotFoundErr(err) {
				return nil, err
			}
			break
		}
		if info.Size < f.blockSize {
			// Too small to carry over with a part copy: pull the
			// existing bytes into the buffer and rewrite the object.
			data, err := fs.fetchRange(ctx, bucket, key, "", 0, info.Size)
			if err != nil {
				return nil, err
			}
			f.buffer.Write(data)
			f.loc = int64(len(data))
		} else {
			f.appendBlock = true
			f.size = info.Size
			f.loc = info.Size
		}
	}
	return f, nil
}

// Path returns the normalized bucket/key path of the handle.
func (f *File) Path() string { return f.path }

// Mode returns "rb", "wb" or "ab".
func (f *File) Mode() string { return f.mode }

// Size returns the object size known to the handle. For writes it is
// only meaningful after Commit.
func (f *File) Size() int64 { return f.size }

// Tell returns the current position.
func (f *File) Tell() int64 { return f.loc }

func (f *File) readable() bool { return f.mode == "rb" }

// Seek repositions a read handle. Seeking past the end is allowed;
// subsequent reads return EOF. Write handles cannot seek.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if !f.readable() {
		return 0, fmt.Errorf("%w: seek only available in read mode", ErrInvalidArgument)
	}
	var nloc int64
	switch whence {
	case io.SeekStart:
		nloc = offset
	case io.SeekCurrent:
		nloc = f.loc + offset
	case io.SeekEnd:
		nloc = f.size + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrInvalidArgument, whence)
	}
	if nloc < 0 {
		return 0, fmt.Errorf("%w: seek before start of file", ErrInvalidArgument)
	}
	f.loc = nloc
	return nloc, nil
}

// fetchTo makes the cache window cover [start, end), clipped to the
// object size. The window grows contiguously while fillCache is on; a
// jump that does not touch the current window replaces it when
// fillCache is off.
func (f *File) fetchTo(start, end int64) error {
	if end > f.size {
		end = f.size
	}
	want := end + f.blockSize
	if f.start < 0 {
		data, err := f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, start, want)
		if err != nil {
			return err
		}
		f.start, f.end, f.cache = start, want, data
		return nil
	}
	if start < f.start {
		if !f.fillCache && want < f.start {
			data, err := f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, start, want)
			if err != nil {
				return err
			}
			f.start, f.end, f.cache = start, want, data
		} else {
			head, err := f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, start, f.start)
			if err != nil {
				return err
			}
			f.cache = append(head, f.cache...)
			f.start = start
		}
	}
	if end > f.end {
		if f.end >= f.size {
			return nil
		}
		if !f.fillCache && start > f.end {
			data, err := f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, start, want)
			if err != nil {
				return err
			}
			f.start, f.end, f.cache = start, want, data
		} else {
			tail, err := f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, f.end, want)
			if err != nil {
				return err
			}
			f.cache = append(f.cache, tail...)
			f.end = want
		}
	}
	return nil
}

// Read reads from the current position, serving out of the read-ahead
// window. Returns io.EOF at or past the end of the object.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if !f.readable() {
		return 0, fmt.Errorf("%w: file not open for reading", ErrInvalidArgument)
	}
	if f.loc >= f.size || len(p) == 0 {
		if f.loc >= f.size {
			return 0, io.EOF
		}
		return 0, nil
	}
	end := f.loc + int64(len(p))
	if err := f.fetchTo(f.loc, end); err != nil {
		return 0, err
	}
	if end > f.size {
		end = f.size
	}
	avail := f.start + int64(len(f.cache))
	if end > avail {
		end = avail
	}
	n := copy(p, f.cache[f.loc-f.start:end-f.start])
	f.loc += int64(n)
	return n, nil
}

// ReadLine reads up to and including the next newline. At end of file
// with nothing left it returns io.EOF.
func (f *File) ReadLine() ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if !f.readable() {
		return nil, fmt.Errorf("%w: file not open for reading", ErrInvalidArgument)
	}
	var line []byte
	for {
		if f.loc >= f.size {
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		}
		if err := f.fetchTo(f.loc, f.loc+f.blockSize); err != nil {
			return nil, err
		}
		upper := min(f.start+int64(len(f.cache)), f.size)
		chunk := f.cache[f.loc-f.start : upper-f.start]
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line = append(line, chunk[:i+1]...)
			f.loc += int64(i + 1)
			return line, nil
		}
		line = append(line, chunk...)
		f.loc += int64(len(chunk))
	}
}

// Head returns the first n bytes of the file, leaving the read position
// untouched.
func (f *File) Head(n int64) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if !f.readable() {
		return nil, fmt.Errorf("%w: file not open for reading", ErrInvalidArgument)
	}
	if n > f.size {
		n = f.size
	}
	return f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, 0, n)
}

// Tail returns the last n bytes of the file, or the whole file when it
// is shorter than n. The read position is untouched.
func (f *File) Tail(n int64) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	if !f.readable() {
		return nil, fmt.Errorf("%w: file not open for reading", ErrInvalidArgument)
	}
	start := f.size - n
	if start < 0 {
		start = 0
	}
	return f.fs.fetchRange(f.ctx, f.bucket, f.key, f.versionID, start, f.size)
}

// Write buffers p and spills full blocks to the store as multipart
// parts. Nothing becomes visible at the path before Commit.
func (f *File) Write(p []byte) (int, error) {
	if f.closed || f.committed {
		return 0, ErrClosed
	}
	if f.readable() {
		return 0, fmt.Errorf("%w: file not open for writing", ErrInvalidArgument)
	}
	n, _ := f.buffer.Write(p)
	f.loc += int64(n)
	if int64(f.buffer.Len()) >= f.blockSize {
		if err := f.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush uploads every complete block currently buffered. Data short of
// a full block stays buffered until the next Flush or Commit.
func (f *File) Flush() error {
	if f.closed || f.committed {
		return ErrClosed
	}
	if f.readable() {
		return nil
	}
	if int64(f.buffer.Len()) < f.blockSize {
		return nil
	}
	if err := f.ensureUpload(); err != nil {
		return err
	}
	for int64(f.buffer.Len()) >= f.blockSize {
		if err := f.uploadPart(f.buffer.Next(int(f.blockSize))); err != nil {
			return err
		}
	}
	return nil
}

// ensureUpload starts the multipart upload if it has not been started.
// For appends to an object at or above one block, the existing content
// is carried over as the first part with a server-side copy.
func (f *File) ensureUpload() error {
	if f.uploadID != "" {
		return nil
	}
	store, err := f.fs.conn(f.ctx)
	if err != nil {
		return err
	}
	uploadID, err := store.CreateMultipartUpload(f.ctx, f.bucket, f.key, PutOptions{ACL: f.acl})
	if err != nil {
		return opError("write", f.path, translateErr(err))
	}
	f.uploadID = uploadID
	logger.Debug("initiate multipart upload for %s (%s)", f.path, uploadID)
	if f.appendBlock {
		etag, err := store.UploadPartCopy(f.ctx, f.bucket, f.key, uploadID, 1, f.path, nil)
		if err != nil {
			f.abort()
			return opError("write", f.path, translateErr(err))
		}
		f.parts = append(f.parts, CompletedPart{PartNumber: 1, ETag: etag})
	}
	return nil
}

// uploadPart uploads data as the next part, retrying transient errors
// up to the configured ceiling.
func (f *File) uploadPart(data []byte) error {
	store, err := f.fs.conn(f.ctx)
	if err != nil {
		return err
	}
	num := int32(len(f.parts) + 1)
	attempts := f.fs.cfg.PartRetries
	var lastErr error
	for i := 0; i < attempts; i++ {
		etag, err := store.UploadPart(f.ctx, f.bucket, f.key, f.uploadID, num, data)
		if err == nil {
			f.parts = append(f.parts, CompletedPart{PartNumber: num, ETag: etag})
			return nil
		}
		if !isRetryable(err) {
			f.abortOnError()
			return opError("write", f.path, translateErr(err))
		}
		lastErr = err
		logger.Debug("upload part %d of %s: attempt %d/%d failed: %v",
			num, f.path, i+1, attempts, err)
		if f.fs.cfg.RetryDelay > 0 {
			select {
			case <-time.After(f.fs.cfg.RetryDelay):
			case <-f.ctx.Done():
				return f.ctx.Err()
			}
		}
	}
	f.abortOnError()
	return fmt.Errorf("%w: upload part %d of %s after %d attempts: %w",
		ErrRetriesExceeded, num, f.path, attempts, lastErr)
}

func (f *File) abortOnError() {
	if f.fs.cfg.AbortOnWriteError {
		f.abort()
	}
}

func (f *File) abort() {
	if f.uploadID == "" {
		return
	}
	store, err := f.fs.conn(f.ctx)
	if err != nil {
		return
	}
	if err := store.AbortMultipartUpload(f.ctx, f.bucket, f.key, f.uploadID); err != nil {
		logger.Warn("abort multipart upload %s (%s): %v", f.path, f.uploadID, err)
	}
	f.uploadID = ""
	f.parts = nil
}

// Commit finalizes a write: remaining buffered data is uploaded and the
// object becomes visible at the path in one step. A write that never
// crossed one block goes up as a single put instead of a multipart
// upload. On a version-aware filesystem the new version id is recorded
// on the handle.
func (f *File) Commit() error {
	if f.closed || f.committed {
		return ErrClosed
	}
	if f.readable() {
		return fmt.Errorf("%w: file not open for writing", ErrInvalidArgument)
	}
	store, err := f.fs.conn(f.ctx)
	if err != nil {
		return err
	}
	if f.uploadID == "" && !f.appendBlock {
		versionID, err := store.PutObject(f.ctx, f.bucket, f.key, f.buffer.Bytes(), PutOptions{ACL: f.acl})
		if err != nil {
			return opError("write", f.path, translateErr(err))
		}
		f.finish(versionID)
		return nil
	}
	if err := f.ensureUpload(); err != nil {
		return err
	}
	for f.buffer.Len() > 0 {
		n := min(int64(f.buffer.Len()), f.blockSize)
		if err := f.uploadPart(f.buffer.Next(int(n))); err != nil {
			return err
		}
	}
	versionID, err := store.CompleteMultipartUpload(f.ctx, f.bucket, f.key, f.uploadID, f.parts)
	if err != nil {
		f.abortOnError()
		return opError("write", f.path, translateErr(err))
	}
	logger.Debug("complete multipart upload for %s (%d parts)", f.path, len(f.parts))
	f.uploadID = ""
	f.finish(versionID)
	return nil
}

func (f *File) finish(versionID string) {
	if f.fs.cfg.VersionAware {
		f.versionID = versionID
	}
	f.size = f.loc
	f.committed = true
	f.fs.cache.InvalidateChanged(f.path)
	f.fs.cache.InvalidateMissing(f.path)
}

// Discard abandons an uncommitted write: the multipart upload, if any,
// is aborted and buffered data is dropped. The object at the path is
// left as it was.
func (f *File) Discard() error {
	if f.closed || f.committed {
		return ErrClosed
	}
	if f.readable() {
		return fmt.Errorf("%w: file not open for writing", ErrInvalidArgument)
	}
	f.abort()
	f.buffer.Reset()
	f.closed = true
	return nil
}

// Close commits a pending write and releases the handle. Closing twice
// is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if !f.readable() && !f.committed {
		if err := f.Commit(); err != nil {
			return err
		}
	}
	f.cache = nil
	f.buffer = nil
	f.closed = true
	return nil
}

// VersionID returns the version pinned at open (reads) or captured at
// commit (writes, version-aware filesystems only).
func (f *File) VersionID() string { return f.versionID }

// Metadata returns the user metadata of the underlying object.
func (f *File) Metadata(refresh bool) (map[string]string, error) {
	return f.fs.Metadata(f.ctx, f.path, refresh)
}

// GetXattr returns one metadata attribute of the underlying object.
func (f *File) GetXattr(name string) (string, error) {
	return f.fs.GetXattr(f.ctx, f.path, name)
}

// SetXattr updates metadata attributes on the underlying object. Not
// available on a handle open for writing: the pending upload would
// clobber the copy-in-place update at commit.
func (f *File) SetXattr(attrs map[string]string) error {
	if !f.readable() {
		return fmt.Errorf("%w: cannot change metadata on a file open for writing", ErrInvalidArgument)
	}
	return f.fs.SetXattr(f.ctx, f.path, attrs)
}

// URL generates a presigned HTTP URL for the underlying object.
func (f *File) URL(expires time.Duration) (string, error) {
	return f.fs.URL(f.ctx, f.path, expires)
}

// Cat returns the full content of path.
func (fs *FileSystem) Cat(ctx context.Context, path string) ([]byte, error) {
	info, err := fs.Info(ctx, path, false)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	return fs.fetchRange(ctx, bucket, key, "", 0, info.Size)
}

// Head returns the first n bytes of path.
func (fs *FileSystem) Head(ctx context.Context, path string, n int64) ([]byte, error) {
	info, err := fs.Info(ctx, path, false)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	return fs.fetchRange(ctx, bucket, key, "", 0, min(n, info.Size))
}

// Tail returns the last n bytes of path, or the whole file when it is
// shorter than n.
func (fs *FileSystem) Tail(ctx context.Context, path string, n int64) ([]byte, error) {
	info, err := fs.Info(ctx, path, false)
	if err != nil {
		return nil, err
	}
	bucket, key := SplitPath(path)
	start := info.Size - n
	if start < 0 {
		start = 0
	}
	return fs.fetchRange(ctx, bucket, key, "", start, info.Size)
}
