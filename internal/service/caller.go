package service

import "github.com/Hawyaa/alora-backend/internal/domain"

// Caller is the identity a request acts with. A zero Caller is an anonymous guest.
type Caller struct {
	OwnerRef string
	Admin    bool
}

func (c Caller) IsGuest() bool {
	return c.OwnerRef == ""
}

// CanView reports whether the caller may read the order.
func (c Caller) CanView(o *domain.Order) bool {
	return c.Admin || o.OwnedBy(c.OwnerRef)
}

// CanPay reports whether the caller may open a payment session for the order.
// Guest orders carry no owner and are reachable by anyone holding the order id.
func (c Caller) CanPay(o *domain.Order) bool {
	return o.OwnerRef == nil || c.CanView(o)
}
