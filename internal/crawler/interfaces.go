package crawler

import "context"

// Fetcher retrieves a URL. Any error means the page is treated as absent.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}
