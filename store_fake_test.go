package s3fs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ ObjectStore = (*fakeStore)(nil)

// newTestFS wires a filesystem over a fresh fake store with fast
// retries.
func newTestFS(cfg Config) (*FileSystem, *fakeStore) {
	store := newFakeStore()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Microsecond
	}
	return NewWithStore(store, cfg), store
}

// apiErr mimics a coded store error for classification tests.
type apiErr struct {
	code string
	msg  string
}

func (e *apiErr) Error() string {
	if e.msg != "" {
		return e.code + ": " + e.msg
	}
	return e.code
}

func (e *apiErr) ErrorCode() string { return e.code }

func notFoundErr() error     { return &apiErr{code: "NoSuchKey"} }
func noBucketErr() error     { return &apiErr{code: "NoSuchBucket"} }
func accessDeniedErr() error { return &apiErr{code: "AccessDenied"} }
func invalidRangeErr() error { return &apiErr{code: "InvalidRange"} }
func slowDownErr() error     { return &apiErr{code: "SlowDown", msg: "please reduce your request rate"} }

type fakeObject struct {
	data      []byte
	metadata  map[string]string
	versionID string
	acl       string
	modified  time.Time
}

type fakeUpload struct {
	bucket, key string
	parts       map[int32][]byte
	opt         PutOptions
}

// fakeStore is an in-memory ObjectStore with per-call fault injection
// and call counting.
type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]*fakeObject
	tags    map[string]map[string]string
	uploads map[string]*fakeUpload

	versioning  bool
	nextUpload  int
	nextVersion int

	// errors consumed one per call, nil entries meaning success
	getErrs    []error
	uploadErrs []error
	listErrs   []error

	calls map[string]int

	// part sizes recorded at completion, keyed by bucket/key
	partSizes map[string][]int
	aborted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets:   make(map[string]map[string]*fakeObject),
		tags:      make(map[string]map[string]string),
		uploads:   make(map[string]*fakeUpload),
		calls:     make(map[string]int),
		partSizes: make(map[string][]int),
	}
}

func (s *fakeStore) count(op string) {
	s.calls[op]++
}

// putData seeds an object without going through the filesystem.
func (s *fakeStore) putData(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]*fakeObject)
	}
	s.buckets[bucket][key] = &fakeObject{data: data, modified: time.Now()}
}

func (s *fakeStore) addBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]*fakeObject)
	}
}

func (s *fakeStore) object(bucket, key string) (*fakeObject, error) {
	keys, ok := s.buckets[bucket]
	if !ok {
		return nil, noBucketErr()
	}
	obj, ok := keys[key]
	if !ok {
		return nil, notFoundErr()
	}
	return obj, nil
}

func (s *fakeStore) version() string {
	if !s.versioning {
		return ""
	}
	s.nextVersion++
	return fmt.Sprintf("v%d", s.nextVersion)
}

func (s *fakeStore) HeadObject(ctx context.Context, bucket, key string, opt HeadOptions) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("HeadObject")
	obj, err := s.object(bucket, key)
	if err != nil {
		return nil, err
	}
	return &ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         fmt.Sprintf("etag-%d", len(obj.data)),
		LastModified: obj.modified,
		VersionID:    obj.versionID,
		Metadata:     obj.metadata,
	}, nil
}

func (s *fakeStore) GetObjectRange(ctx context.Context, bucket, key string, start, end int64, opt GetOptions) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("GetObjectRange")
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	obj, err := s.object(bucket, key)
	if err != nil {
		return nil, err
	}
	size := int64(len(obj.data))
	if start >= size {
		return nil, invalidRangeErr()
	}
	if end > size {
		end = size
	}
	return append([]byte(nil), obj.data[start:end]...), nil
}

func (s *fakeStore) ListObjectsV2(ctx context.Context, bucket, prefix, delimiter, token string) (*ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ListObjectsV2")
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	keys, ok := s.buckets[bucket]
	if !ok {
		return nil, noBucketErr()
	}
	var names []string
	for k := range keys {
		if strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	page := &ListPage{}
	prefixes := make(map[string]bool)
	for _, k := range names {
		if delimiter != "" {
			rest := strings.TrimPrefix(k, prefix)
			if i := strings.Index(rest, delimiter); i >= 0 {
				prefixes[prefix+rest[:i+1]] = true
				continue
			}
		}
		obj := keys[k]
		page.Contents = append(page.Contents, ObjectInfo{
			Key:          k,
			Size:         int64(len(obj.data)),
			ETag:         fmt.Sprintf("etag-%d", len(obj.data)),
			LastModified: obj.modified,
		})
	}
	for p := range prefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, p)
	}
	sort.Strings(page.CommonPrefixes)
	return page, nil
}

func (s *fakeStore) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ListBuckets")
	var buckets []BucketInfo
	for b := range s.buckets {
		buckets = append(buckets, BucketInfo{Name: b})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

func (s *fakeStore) PutObject(ctx context.Context, bucket, key string, data []byte, opt PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("PutObject")
	if s.buckets[bucket] == nil {
		return "", noBucketErr()
	}
	obj := &fakeObject{
		data:      append([]byte(nil), data...),
		metadata:  opt.Metadata,
		acl:       opt.ACL,
		versionID: s.version(),
		modified:  time.Now(),
	}
	s.buckets[bucket][key] = obj
	return obj.versionID, nil
}

func (s *fakeStore) DeleteObject(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("DeleteObject")
	if s.buckets[bucket] == nil {
		return noBucketErr()
	}
	delete(s.buckets[bucket], key)
	return nil
}

func (s *fakeStore) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("DeleteObjects")
	if len(keys) > maxBulkDelete {
		return &apiErr{code: "MalformedXML", msg: "too many keys"}
	}
	if s.buckets[bucket] == nil {
		return noBucketErr()
	}
	for _, k := range keys {
		delete(s.buckets[bucket], k)
	}
	return nil
}

func (s *fakeStore) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opt CopyOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CopyObject")
	src, err := s.object(srcBucket, srcKey)
	if err != nil {
		return err
	}
	if s.buckets[dstBucket] == nil {
		return noBucketErr()
	}
	meta := src.metadata
	if opt.Metadata != nil {
		meta = opt.Metadata
	}
	s.buckets[dstBucket][dstKey] = &fakeObject{
		data:      append([]byte(nil), src.data...),
		metadata:  meta,
		versionID: s.version(),
		modified:  time.Now(),
	}
	return nil
}

func (s *fakeStore) CreateMultipartUpload(ctx context.Context, bucket, key string, opt PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CreateMultipartUpload")
	if s.buckets[bucket] == nil {
		return "", noBucketErr()
	}
	s.nextUpload++
	id := fmt.Sprintf("upload-%d", s.nextUpload)
	s.uploads[id] = &fakeUpload{
		bucket: bucket, key: key,
		parts: make(map[int32][]byte),
		opt:   opt,
	}
	return id, nil
}

func (s *fakeStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("UploadPart")
	if len(s.uploadErrs) > 0 {
		err := s.uploadErrs[0]
		s.uploadErrs = s.uploadErrs[1:]
		if err != nil {
			return "", err
		}
	}
	up, ok := s.uploads[uploadID]
	if !ok {
		return "", &apiErr{code: "NoSuchUpload"}
	}
	up.parts[partNumber] = append([]byte(nil), data...)
	return fmt.Sprintf("part-etag-%d", partNumber), nil
}

func (s *fakeStore) UploadPartCopy(ctx context.Context, bucket, key, uploadID string, partNumber int32, srcPath string, srcRange *ByteRange) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("UploadPartCopy")
	up, ok := s.uploads[uploadID]
	if !ok {
		return "", &apiErr{code: "NoSuchUpload"}
	}
	srcBucket, srcKey := SplitPath(srcPath)
	src, err := s.object(srcBucket, srcKey)
	if err != nil {
		return "", err
	}
	data := src.data
	if srcRange != nil {
		end := srcRange.End
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		data = data[srcRange.Start:end]
	}
	up.parts[partNumber] = append([]byte(nil), data...)
	return fmt.Sprintf("part-etag-%d", partNumber), nil
}

func (s *fakeStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CompleteMultipartUpload")
	up, ok := s.uploads[uploadID]
	if !ok {
		return "", &apiErr{code: "NoSuchUpload"}
	}
	if len(parts) == 0 {
		return "", &apiErr{code: "InvalidRequest", msg: "no parts"}
	}
	var data []byte
	var sizes []int
	last := int32(0)
	for _, p := range parts {
		if p.PartNumber <= last {
			return "", &apiErr{code: "InvalidPartOrder"}
		}
		last = p.PartNumber
		chunk, ok := up.parts[p.PartNumber]
		if !ok {
			return "", &apiErr{code: "InvalidPart"}
		}
		data = append(data, chunk...)
		sizes = append(sizes, len(chunk))
	}
	obj := &fakeObject{
		data:      data,
		metadata:  up.opt.Metadata,
		acl:       up.opt.ACL,
		versionID: s.version(),
		modified:  time.Now(),
	}
	s.buckets[up.bucket][up.key] = obj
	s.partSizes[up.bucket+"/"+up.key] = sizes
	delete(s.uploads, uploadID)
	return obj.versionID, nil
}

func (s *fakeStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("AbortMultipartUpload")
	if _, ok := s.uploads[uploadID]; !ok {
		return &apiErr{code: "NoSuchUpload"}
	}
	delete(s.uploads, uploadID)
	s.aborted = append(s.aborted, uploadID)
	return nil
}

func (s *fakeStore) CreateBucket(ctx context.Context, bucket, region, acl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CreateBucket")
	if _, ok := s.buckets[bucket]; ok {
		return &apiErr{code: "BucketAlreadyOwnedByYou"}
	}
	s.buckets[bucket] = make(map[string]*fakeObject)
	return nil
}

func (s *fakeStore) DeleteBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("DeleteBucket")
	keys, ok := s.buckets[bucket]
	if !ok {
		return noBucketErr()
	}
	if len(keys) > 0 {
		return &apiErr{code: "BucketNotEmpty"}
	}
	delete(s.buckets, bucket)
	return nil
}

func (s *fakeStore) PutObjectACL(ctx context.Context, bucket, key, acl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("PutObjectACL")
	obj, err := s.object(bucket, key)
	if err != nil {
		return err
	}
	obj.acl = acl
	return nil
}

func (s *fakeStore) PutBucketACL(ctx context.Context, bucket, acl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("PutBucketACL")
	if _, ok := s.buckets[bucket]; !ok {
		return noBucketErr()
	}
	return nil
}

func (s *fakeStore) GetObjectTagging(ctx context.Context, bucket, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("GetObjectTagging")
	if _, err := s.object(bucket, key); err != nil {
		return nil, err
	}
	tags := make(map[string]string)
	for k, v := range s.tags[bucket+"/"+key] {
		tags[k] = v
	}
	return tags, nil
}

func (s *fakeStore) PutObjectTagging(ctx context.Context, bucket, key string, tags map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("PutObjectTagging")
	if _, err := s.object(bucket, key); err != nil {
		return err
	}
	s.tags[bucket+"/"+key] = tags
	return nil
}

func (s *fakeStore) PresignGetObject(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("PresignGetObject")
	return fmt.Sprintf("https://example.test/%s/%s?expires=%d", bucket, key, int(expires.Seconds())), nil
}

func (s *fakeStore) ListObjectVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ListObjectVersions")
	keys, ok := s.buckets[bucket]
	if !ok {
		return nil, noBucketErr()
	}
	var versions []ObjectVersion
	for k, obj := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		versions = append(versions, ObjectVersion{
			Key:          k,
			VersionID:    obj.versionID,
			Size:         int64(len(obj.data)),
			IsLatest:     true,
			LastModified: obj.modified,
		})
	}
	return versions, nil
}
