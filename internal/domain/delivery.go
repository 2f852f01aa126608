package domain

import (
	"time"

	"github.com/joao-fontenele/foodflow/internal/apperr"
)

type Delivery struct {
	ID          string     `json:"id"`
	OrderID     string     `json:"order_id"`
	PickedUpAt  *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (d *Delivery) MarkPickedUp(at time.Time) error {
	if d.PickedUpAt != nil {
		return apperr.Conflict(apperr.CodeAlreadyPickedUp, "delivery %s was already picked up", d.ID)
	}
	if d.DeliveredAt != nil {
		return apperr.Conflict(apperr.CodeAlreadyDelivered, "delivery %s was already delivered", d.ID)
	}

	at = at.UTC()
	d.PickedUpAt = &at
	d.UpdatedAt = at
	return nil
}

// MarkDelivered requires a prior pickup.
func (d *Delivery) MarkDelivered(at time.Time) error {
	if d.PickedUpAt == nil {
		return apperr.Conflict(apperr.CodeNotPickedUp, "delivery %s has not been picked up", d.ID)
	}
	if d.DeliveredAt != nil {
		return apperr.Conflict(apperr.CodeAlreadyDelivered, "delivery %s was already delivered", d.ID)
	}

	at = at.UTC()
	d.DeliveredAt = &at
	d.UpdatedAt = at
	return nil
}
