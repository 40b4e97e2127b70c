// Package pricing derives order totals from a cart snapshot.
package pricing

import (
	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	DefaultShipping = decimal.NewFromInt(5)
	DefaultTaxRate  = decimal.RequireFromString("0.08")
)

// MoneyPlaces is the minor unit precision of the store currency.
const MoneyPlaces = 2

type Config struct {
	Shipping decimal.Decimal
	TaxRate  decimal.Decimal
}

type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Quote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Engine is safe for concurrent use; it holds only immutable rates.
type Engine struct {
	shipping decimal.Decimal
	taxRate  decimal.Decimal
}

func NewEngine(cfg Config) *Engine {
	return &Engine{shipping: cfg.Shipping, taxRate: cfg.TaxRate}
}

func NewDefaultEngine() *Engine {
	return NewEngine(Config{Shipping: DefaultShipping, TaxRate: DefaultTaxRate})
}

// Price computes subtotal, flat shipping, tax and the grand total.
// The total is rounded half-up to two decimals from the unrounded tax, so
// Total == round2(subtotal + shipping + subtotal*taxRate).
func (e *Engine) Price(lines []Line) Quote {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	rawTax := subtotal.Mul(e.taxRate)
	total := subtotal.Add(e.shipping).Add(rawTax)

	return Quote{
		Subtotal: subtotal.Round(MoneyPlaces),
		Shipping: e.shipping.Round(MoneyPlaces),
		Tax:      rawTax.Round(MoneyPlaces),
		Total:    total.Round(MoneyPlaces),
	}
}

func (e *Engine) PriceOrderLines(lines []domain.OrderLine) Quote {
	in := make([]Line, 0, len(lines))
	for _, l := range lines {
		in = append(in, Line{UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	return e.Price(in)
}

func (e *Engine) PriceCart(cart *domain.Cart) Quote {
	in := make([]Line, 0, len(cart.Items))
	for _, it := range cart.Items {
		in = append(in, Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity})
	}
	return e.Price(in)
}
