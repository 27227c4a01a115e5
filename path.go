package s3fs

import "strings"

const scheme = "s3://"

// SplitPath normalizes an S3 path string into bucket and key.
//
// Accepts paths with or without the s3:// scheme prefix. Leading and
// trailing slashes are stripped. The key is empty when the path denotes a
// bucket only; an empty path denotes the account root (all buckets).
func SplitPath(path string) (bucket, key string) {
	path = strings.TrimPrefix(path, scheme)
	path = strings.Trim(path, "/")
	if path == "" {
		return "", ""
	}
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

// ParentPath returns the containing directory of path, or "" when path is
// a bucket or the root.
func ParentPath(path string) string {
	path = strings.TrimPrefix(path, scheme)
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// JoinPath joins a bucket and key back into a normalized path.
func JoinPath(bucket, key string) string {
	if key == "" {
		return bucket
	}
	return bucket + "/" + key
}

// normPath strips the scheme prefix and any trailing slash.
func normPath(path string) string {
	path = strings.TrimPrefix(path, scheme)
	return strings.TrimSuffix(path, "/")
}
