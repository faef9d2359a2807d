package stores

import (
	"time"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// OrderRecord is a stored order together with its bookkeeping columns.
type OrderRecord struct {
	Order engine.OrderSnapshot `json:"order"`

	// Deactivated is set once the CLOSED order was garbage collected.
	Deactivated bool `json:"deactivated"`
}

// OrderFilter narrows ListOrders. Zero values match everything.
type OrderFilter struct {
	State              engine.OrderState
	ProvidingMember    string
	RequestingMember   string
	IncludeDeactivated bool
	Limit              int
	Offset             int
}

// StateChangeRecord is one row of the audit trail.
type StateChangeRecord struct {
	ID        int64             `json:"id"`
	OrderID   string            `json:"order_id"`
	From      engine.OrderState `json:"from,omitempty"`
	To        engine.OrderState `json:"to"`
	ChangedAt time.Time         `json:"changed_at"`
}
