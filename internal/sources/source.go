// Package sources implements the concrete members of an account's
// fallback chain. Each source fetches and normalizes usage data one
// way; the resolver tries them strictly in declared order.
package sources

import (
	"context"
	"net/http"
	"time"

	"github.com/usagedeck/usagedeck/internal/models"
)

// Source is one way of obtaining usage data for an account.
//
// Fetch returns a usable record, or an error. Errors satisfying
// errors.IsInapplicable mean the source cannot serve this account right
// now (missing or rejected credential, no data); transient failures are
// reported as ErrSourceUnreachable or ErrSourceMalformed. Either way
// the resolver falls through to the next source; the distinction only
// drives logging and metrics.
type Source interface {
	Kind() models.SourceKind
	Fetch(ctx context.Context, account *models.Account, window time.Duration) (*models.UsageRecord, error)
}

// HTTPDoer is the request surface shared by the browser-shaped client
// and plain http.Client, so tests can substitute either.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
