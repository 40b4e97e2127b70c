package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentSession struct {
	OrderID     uuid.UUID `json:"orderId"`
	TxRef       string    `json:"txRef"`
	CheckoutURL string    `json:"checkoutUrl"`
}

// ProviderStatus is the payment outcome reported by the provider or claimed by a callback.
type ProviderStatus string

const (
	ProviderStatusSuccess ProviderStatus = "success"
	ProviderStatusFailed  ProviderStatus = "failed"
	ProviderStatusPending ProviderStatus = "pending"
	ProviderStatusUnknown ProviderStatus = ""
)

// ParseProviderStatus folds the spellings the provider and callers use into the known set.
func ParseProviderStatus(s string) ProviderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "successful", "completed", "paid":
		return ProviderStatusSuccess
	case "failed", "failure", "cancelled", "canceled", "declined", "reversed":
		return ProviderStatusFailed
	case "pending":
		return ProviderStatusPending
	}
	return ProviderStatusUnknown
}

// Verification is the authoritative transaction state returned by the provider.
type Verification struct {
	TxRef    string
	Status   ProviderStatus
	Amount   decimal.Decimal
	Currency string
}
