package domain

import (
	"context"
	"io"
)

// JobHeader tags outgoing fetches with the owning job id so the cache worker can scope entries
const JobHeader = "X-Download-Job"

// Fetcher retrieves one remote resource.
// The body is written to w (discarded when w is nil) and the number of bytes is returned.
// Cancelling ctx must make an in-flight fetch return promptly.
type Fetcher interface {
	Fetch(ctx context.Context, jobID, url string, w io.Writer) (int64, error)
}
