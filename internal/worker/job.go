// Package worker provides an embedded consumer pool that claims jobs through
// the store's atomic claim operation and executes a registered handler per
// source partition.
//
// There is no retry and no lease expiry: a handler failure is
// logged and the job stays ACTIVE, exactly as an external consumer crashing
// after a claim would leave it. Completion is reported through MarkDone.
package worker

import (
	"context"
	"encoding/json"
)

// Handler is the function executed for each claimed job. It receives the
// job's opaque document. A nil return marks the job done; a non-nil return
// leaves the job ACTIVE and is only logged.
type Handler func(ctx context.Context, document json.RawMessage) error
