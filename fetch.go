package s3fs

import (
	"context"
	"fmt"
	"time"

	"github.com/zarr-developers/s3fs/internal/logger"
)

const defaultFetchAttempts = 10

// fetchRange issues one ranged read [start, end) against the store,
// retrying transient transport errors up to the configured attempt
// ceiling. A range past the end of the object is not an error: the store
// reports it as unsatisfiable and we return empty bytes, which is how
// seek-past-EOF degrades.
func (fs *FileSystem) fetchRange(ctx context.Context, bucket, key, versionID string, start, end int64) ([]byte, error) {
	if end <= start {
		return nil, nil
	}
	store, err := fs.conn(ctx)
	if err != nil {
		return nil, err
	}
	attempts := fs.cfg.FetchAttempts
	var lastErr error
	for i := 0; i < attempts; i++ {
		data, err := store.GetObjectRange(ctx, bucket, key, start, end,
			GetOptions{VersionID: versionID})
		if err == nil {
			return data, nil
		}
		if isInvalidRange(err) {
			return nil, nil
		}
		if !isRetryable(err) {
			return nil, translateErr(err)
		}
		lastErr = err
		logger.Debug("fetch %s/%s [%d,%d): attempt %d/%d failed: %v",
			bucket, key, start, end, i+1, attempts, err)
		if fs.cfg.RetryDelay > 0 {
			select {
			case <-time.After(fs.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: fetch %s/%s after %d attempts: %w",
		ErrRetriesExceeded, bucket, key, attempts, lastErr)
}
