package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultVariant is the variant used when a line carries no explicit shade.
const DefaultVariant = "default"

// GuestOwnerPrefix marks owner keys of carts held by an anonymous session.
const GuestOwnerPrefix = "guest:"

// GuestOwnerKey is the cart owner key for a guest session.
func GuestOwnerKey(session string) string {
	return GuestOwnerPrefix + session
}

// IsGuestOwner reports whether ownerKey belongs to a guest session rather than an account.
func IsGuestOwner(ownerKey string) bool {
	return strings.HasPrefix(ownerKey, GuestOwnerPrefix)
}

type Cart struct {
	OwnerKey     string          `json:"ownerKey"`
	Items        []CartItem      `json:"items"`
	DerivedTotal decimal.Decimal `json:"derivedTotal"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type CartItem struct {
	ItemID      string          `json:"itemId"`
	ProductRef  string          `json:"productRef"`
	DisplayName string          `json:"displayName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity"`
	Variant     string          `json:"variant"`
	AddedAt     time.Time       `json:"addedAt"`
}

// CartLineRef names a quantity taken from one cart line.
type CartLineRef struct {
	ItemID   string
	Quantity int
}

// NormalizeVariant maps an absent variant to DefaultVariant so that merge keys compare equal.
func NormalizeVariant(v string) string {
	if v == "" {
		return DefaultVariant
	}
	return v
}

// Matches reports whether the line has the same merge key as productRef + variant.
func (i CartItem) Matches(productRef, variant string) bool {
	return i.ProductRef == productRef && NormalizeVariant(i.Variant) == NormalizeVariant(variant)
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Recalculate refreshes DerivedTotal from the current lines.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	c.DerivedTotal = total
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// EmptyCart returns the representation of a cart that has never been written.
func EmptyCart(ownerKey string) *Cart {
	now := time.Now().UTC()
	return &Cart{
		OwnerKey:     ownerKey,
		Items:        []CartItem{},
		DerivedTotal: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
