// Package retry provides exponential backoff with jitter for calls to
// network collaborators such as the Redis revocation feed.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Ping(ctx).Err()
//	}, nil)
//
// Return retry.Permanent(err) from the function to stop retrying early.
package retry
