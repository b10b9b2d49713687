package engine

import (
	"context"

	"threat-response-engine/internal/audit"
)

// Recorder ships one signed entry to the audit ledger. Every gate decision is
// recorded before the caller sees the result; a Record failure fails the
// surrounding operation.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) error
}
