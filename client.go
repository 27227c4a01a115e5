package s3fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zeebo/blake3"
)

// ObjectInfo describes one stored object, as reported by head or list
// calls.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	VersionID    string
	StorageClass string
	Metadata     map[string]string
}

// BucketInfo describes one bucket owned by the account.
type BucketInfo struct {
	Name    string
	Created time.Time
}

// ListPage is one page of a prefix-delimited listing.
type ListPage struct {
	Contents       []ObjectInfo
	CommonPrefixes []string
	NextToken      string
}

// CompletedPart pairs an uploaded part number with the ETag the store
// returned for it.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// ObjectVersion describes one version of a key in a version-aware bucket.
type ObjectVersion struct {
	Key          string
	VersionID    string
	Size         int64
	ETag         string
	IsLatest     bool
	LastModified time.Time
}

// ByteRange is a half-open byte range [Start, End).
type ByteRange struct {
	Start, End int64
}

// Per-operation option structs. Each enumerates exactly the optional
// fields the call supports; anything else is a compile error rather than
// a silently dropped parameter.

// HeadOptions holds the optional fields of a head-object call.
type HeadOptions struct {
	VersionID string
}

// GetOptions holds the optional fields of a ranged get-object call.
type GetOptions struct {
	VersionID string
}

// PutOptions holds the optional fields of put-object and
// create-multipart-upload calls.
type PutOptions struct {
	ACL      string
	Metadata map[string]string
}

// CopyOptions holds the optional fields of a copy-object call.
type CopyOptions struct {
	// Metadata, when non-nil, replaces the destination metadata
	// (MetadataDirective=REPLACE). When nil the source metadata is
	// copied through.
	Metadata map[string]string
}

// ObjectStore is the capability contract this filesystem is built on: the
// bucket/object CRUD surface of an S3-compatible service. Authentication,
// signing and pagination mechanics live behind it.
type ObjectStore interface {
	HeadObject(ctx context.Context, bucket, key string, opt HeadOptions) (*ObjectInfo, error)
	GetObjectRange(ctx context.Context, bucket, key string, start, end int64, opt GetOptions) ([]byte, error)
	ListObjectsV2(ctx context.Context, bucket, prefix, delimiter, token string) (*ListPage, error)
	ListBuckets(ctx context.Context) ([]BucketInfo, error)
	PutObject(ctx context.Context, bucket, key string, data []byte, opt PutOptions) (versionID string, err error)
	DeleteObject(ctx context.Context, bucket, key string) error
	DeleteObjects(ctx context.Context, bucket string, keys []string) error
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opt CopyOptions) error
	CreateMultipartUpload(ctx context.Context, bucket, key string, opt PutOptions) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error)
	UploadPartCopy(ctx context.Context, bucket, key, uploadID string, partNumber int32, srcPath string, srcRange *ByteRange) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (versionID string, err error)
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	CreateBucket(ctx context.Context, bucket, region, acl string) error
	DeleteBucket(ctx context.Context, bucket string) error
	PutObjectACL(ctx context.Context, bucket, key, acl string) error
	PutBucketACL(ctx context.Context, bucket, acl string) error
	GetObjectTagging(ctx context.Context, bucket, key string) (map[string]string, error)
	PutObjectTagging(ctx context.Context, bucket, key string, tags map[string]string) error
	PresignGetObject(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	ListObjectVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error)
}

// awsStore implements ObjectStore over the AWS SDK v2 S3 client.
type awsStore struct {
	client        *s3.Client
	requesterPays bool
}

func newAWSStore(ctx context.Context, cfg Config) (*awsStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Anon {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	} else if cfg.Credentials != nil && cfg.Credentials.IsValid() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(
				cfg.Credentials.AccessKeyID,
				cfg.Credentials.SecretAccessKey,
				cfg.Credentials.SessionToken,
			)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &awsStore{
		client:        s3.NewFromConfig(awsCfg, s3Opts...),
		requesterPays: cfg.RequesterPays,
	}, nil
}

func (a *awsStore) payer() types.RequestPayer {
	if a.requesterPays {
		return types.RequestPayerRequester
	}
	return ""
}

func (a *awsStore) HeadObject(ctx context.Context, bucket, key string, opt HeadOptions) (*ObjectInfo, error) {
	input := &s3.HeadObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: a.payer(),
	}
	if opt.VersionID != "" {
		input.VersionId = aws.String(opt.VersionID)
	}
	out, err := a.client.HeadObject(ctx, input)
	if err != nil {
		return nil, err
	}
	info := &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
		VersionID:    aws.ToString(out.VersionId),
		StorageClass: string(out.StorageClass),
		Metadata:     out.Metadata,
	}
	return info, nil
}

func (a *awsStore) GetObjectRange(ctx context.Context, bucket, key string, start, end int64, opt GetOptions) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Range:        aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
		RequestPayer: a.payer(),
	}
	if opt.VersionID != "" {
		input.VersionId = aws.String(opt.VersionID)
	}
	out, err := a.client.GetObject(ctx, input)
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

func (a *awsStore) ListObjectsV2(ctx context.Context, bucket, prefix, delimiter, token string) (*ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:       aws.String(bucket),
		Prefix:       aws.String(prefix),
		RequestPayer: a.payer(),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	out, err := a.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}
	page := &ListPage{}
	for _, obj := range out.Contents {
		page.Contents = append(page.Contents, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
			StorageClass: string(obj.StorageClass),
		})
	}
	for _, cp := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (a *awsStore) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	out, err := a.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	buckets := make([]BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, BucketInfo{
			Name:    aws.ToString(b.Name),
			Created: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

func (a *awsStore) PutObject(ctx context.Context, bucket, key string, data []byte, opt PutOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		Metadata:     opt.Metadata,
		RequestPayer: a.payer(),
	}
	if opt.ACL != "" {
		input.ACL = types.ObjectCannedACL(opt.ACL)
	}
	out, err := a.client.PutObject(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.VersionId), nil
}

func (a *awsStore) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		RequestPayer: a.payer(),
	})
	return err
}

func (a *awsStore) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
	}
	out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket:       aws.String(bucket),
		Delete:       &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		RequestPayer: a.payer(),
	})
	if err != nil {
		return err
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		return fmt.Errorf("delete %s: %s %s", aws.ToString(e.Key),
			aws.ToString(e.Code), aws.ToString(e.Message))
	}
	return nil
}

func (a *awsStore) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string, opt CopyOptions) error {
	input := &s3.CopyObjectInput{
		Bucket:       aws.String(dstBucket),
		Key:          aws.String(dstKey),
		CopySource:   aws.String(srcBucket + "/" + srcKey),
		RequestPayer: a.payer(),
	}
	if opt.Metadata != nil {
		input.Metadata = opt.Metadata
		input.MetadataDirective = types.MetadataDirectiveReplace
	}
	_, err := a.client.CopyObject(ctx, input)
	return err
}

func (a *awsStore) CreateMultipartUpload(ctx context.Context, bucket, key string, opt PutOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Metadata:     opt.Metadata,
		RequestPayer: a.payer(),
	}
	if opt.ACL != "" {
		input.ACL = types.ObjectCannedACL(opt.ACL)
	}
	out, err := a.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.UploadId), nil
}

func (a *awsStore) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, data []byte) (string, error) {
	out, err := a.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		UploadId:     aws.String(uploadID),
		PartNumber:   aws.Int32(partNumber),
		Body:         bytes.NewReader(data),
		RequestPayer: a.payer(),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (a *awsStore) UploadPartCopy(ctx context.Context, bucket, key, uploadID string, partNumber int32, srcPath string, srcRange *ByteRange) (string, error) {
	input := &s3.UploadPartCopyInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		UploadId:     aws.String(uploadID),
		PartNumber:   aws.Int32(partNumber),
		CopySource:   aws.String(srcPath),
		RequestPayer: a.payer(),
	}
	if srcRange != nil {
		input.CopySourceRange = aws.String(
			fmt.Sprintf("bytes=%d-%d", srcRange.Start, srcRange.End-1))
	}
	out, err := a.client.UploadPartCopy(ctx, input)
	if err != nil {
		return "", err
	}
	if out.CopyPartResult == nil {
		return "", fmt.Errorf("part %d: missing copy result", partNumber)
	}
	return aws.ToString(out.CopyPartResult.ETag), nil
}

func (a *awsStore) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(p.PartNumber),
			ETag:       aws.String(p.ETag),
		}
	}
	out, err := a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
		RequestPayer:    a.payer(),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.VersionId), nil
}

func (a *awsStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := a.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		UploadId:     aws.String(uploadID),
		RequestPayer: a.payer(),
	})
	return err
}

func (a *awsStore) CreateBucket(ctx context.Context, bucket, region, acl string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if acl != "" {
		input.ACL = types.BucketCannedACL(acl)
	}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	_, err := a.client.CreateBucket(ctx, input)
	return err
}

func (a *awsStore) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := a.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	})
	return err
}

func (a *awsStore) PutObjectACL(ctx context.Context, bucket, key, acl string) error {
	_, err := a.client.PutObjectAcl(ctx, &s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    types.ObjectCannedACL(acl),
	})
	return err
}

func (a *awsStore) PutBucketACL(ctx context.Context, bucket, acl string) error {
	_, err := a.client.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: aws.String(bucket),
		ACL:    types.BucketCannedACL(acl),
	})
	return err
}

func (a *awsStore) GetObjectTagging(ctx context.Context, bucket, key string) (map[string]string, error) {
	out, err := a.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(out.TagSet))
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func (a *awsStore) PutObjectTagging(ctx context.Context, bucket, key string, tags map[string]string) error {
	set := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		set = append(set, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := a.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: set},
	})
	return err
}

func (a *awsStore) PresignGetObject(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	presigner := s3.NewPresignClient(a.client)
	out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

func (a *awsStore) ListObjectVersions(ctx context.Context, bucket, prefix string) ([]ObjectVersion, error) {
	var versions []ObjectVersion
	var keyMarker, versionMarker *string
	for {
		out, err := a.client.ListObjectVersions(ctx, &s3.ListObjectVersionsInput{
			Bucket:          aws.String(bucket),
			Prefix:          aws.String(prefix),
			KeyMarker:       keyMarker,
			VersionIdMarker: versionMarker,
		})
		if err != nil {
			return nil, err
		}
		for _, v := range out.Versions {
			versions = append(versions, ObjectVersion{
				Key:          aws.ToString(v.Key),
				VersionID:    aws.ToString(v.VersionId),
				Size:         aws.ToInt64(v.Size),
				ETag:         aws.ToString(v.ETag),
				IsLatest:     aws.ToBool(v.IsLatest),
				LastModified: aws.ToTime(v.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		keyMarker = out.NextKeyMarker
		versionMarker = out.NextVersionIdMarker
	}
	return versions, nil
}

// ConnCache caches ObjectStore clients keyed by credentials, endpoint,
// region and the current pid. The pid is part of the key so a filesystem
// observed from a forked process establishes a fresh client instead of
// sharing a TLS connection across processes.
type ConnCache struct {
	mu      sync.Mutex
	clients map[string]ObjectStore
}

// NewConnCache returns an empty connection cache. Tests instantiate their
// own so independent filesystems never cross-contaminate.
func NewConnCache() *ConnCache {
	return &ConnCache{clients: make(map[string]ObjectStore)}
}

func connToken(cfg Config, pid int) string {
	h := blake3.New()
	var key, secret, token string
	if cfg.Credentials != nil {
		key = cfg.Credentials.AccessKeyID
		secret = cfg.Credentials.SecretAccessKey
		token = cfg.Credentials.SessionToken
	}
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%t|%t|%d",
		key, secret, token, cfg.Endpoint, cfg.Region,
		cfg.Anon, cfg.RequesterPays, pid)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// get returns the cached client for cfg in process pid, dialing a new one
// on miss. refresh discards any cached client first.
func (c *ConnCache) get(ctx context.Context, cfg Config, pid int, refresh bool) (ObjectStore, error) {
	tok := connToken(cfg, pid)
	c.mu.Lock()
	defer c.mu.Unlock()
	if refresh {
		delete(c.clients, tok)
	}
	if store, ok := c.clients[tok]; ok {
		return store, nil
	}
	store, err := newAWSStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.clients[tok] = store
	return store, nil
}
