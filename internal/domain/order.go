package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodOnline PaymentMethod = "online"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", PaymentMethodCash:
		return PaymentMethodCash, true
	case PaymentMethodOnline:
		return PaymentMethodOnline, true
	}
	return "", false
}

const DefaultCountry = "Ethiopia"

type CustomerContact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone"`
}

// Normalize trims every field and lowercases the email.
func (c CustomerContact) Normalize() CustomerContact {
	return CustomerContact{
		Name:  strings.TrimSpace(c.Name),
		Email: strings.ToLower(strings.TrimSpace(c.Email)),
		Phone: strings.TrimSpace(c.Phone),
	}
}

type Address struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zipCode,omitempty"`
	Country string `json:"country,omitempty"`
}

// OrderLine is frozen at order time and never re-read from the catalog.
type OrderLine struct {
	ProductRef string          `json:"productRef"`
	Resolved   bool            `json:"resolved"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	Variant    string          `json:"variant"`
	// CartItemID is the stored-cart line this was taken from, empty for request lines.
	CartItemID string          `json:"-"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	OwnerRef        *string         `json:"ownerRef"`
	CartKey         string          `json:"-"`
	Customer        CustomerContact `json:"customer"`
	Lines           []OrderLine     `json:"lines"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Tax             decimal.Decimal `json:"tax"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Currency        string          `json:"currency"`
	DeliveryAddress *Address        `json:"deliveryAddress,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Status          OrderStatus     `json:"status"`
	TxRef           string          `json:"txRef,omitempty"`
	CheckoutURL     string          `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
}

// OwnedBy reports whether the order belongs to the given account. Guest orders are owned by nobody.
func (o *Order) OwnedBy(ownerRef string) bool {
	return o.OwnerRef != nil && ownerRef != "" && *o.OwnerRef == ownerRef
}

func (o *Order) HasPaymentSession() bool {
	return o.TxRef != ""
}

// TakenCartLines lists the stored-cart lines and quantities the order consumed.
func (o *Order) TakenCartLines() []CartLineRef {
	var taken []CartLineRef
	for _, l := range o.Lines {
		if l.CartItemID != "" {
			taken = append(taken, CartLineRef{ItemID: l.CartItemID, Quantity: l.Quantity})
		}
	}
	return taken
}
