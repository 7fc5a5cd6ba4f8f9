package inventory

import (
	"context"
	"time"
)

// MovementsPostedEvent carries movements committed by one ledger operation.
type MovementsPostedEvent struct {
	TenantID  int64
	Operation string
	Movements []Movement
	PostedAt  time.Time
}

// IntegrationHandler receives ledger events after commit.
type IntegrationHandler interface {
	HandleMovementsPosted(ctx context.Context, evt MovementsPostedEvent) error
}
