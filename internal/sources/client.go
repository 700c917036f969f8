package sources

import (
	"context"
	"net/url"
)

// remoteClient is the subset of *remote.Client the adapters need. Declaring
// it locally (rather than importing internal/remote directly into every
// adapter's signature) keeps the adapters testable against a fake.
type remoteClient interface {
	SignedGet(ctx context.Context, endpoint string, params url.Values, out any) error
}
