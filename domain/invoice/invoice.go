// Package invoice provides invoice value types and pure builders.
// Exactly one invoice exists per completed payment; uniqueness is enforced
// by the store, immutability by never exposing an update.
package invoice

import (
	"strings"
	"time"

	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/domain/payment"
)

// LineItem represents a line item on an invoice (value type).
type LineItem struct {
	Description string
	Quantity    int64
	UnitPrice   int64 // minor currency units
	Amount      int64 // minor currency units
}

// Buyer is a snapshot of buyer details at time of issue.
type Buyer struct {
	Name    string
	Email   string
	Phone   string
	Address string
	TaxCode string
}

// Invoice represents an immutable billing record (value type).
type Invoice struct {
	ID        string
	PaymentID string
	Number    string

	Buyer Buyer
	Items []LineItem

	Subtotal int64
	Tax      int64
	Total    int64
	Currency string

	IssuedAt  time.Time
	CreatedAt time.Time
}

// Number derives the invoice number from the payment id and issue date.
func Number(paymentID string, issuedAt time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(paymentID, "-", ""))
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return "INV" + issuedAt.Format("20060102") + hex
}

// BuildForPayment creates an invoice from a completed payment.
// This is a PURE function: the invoice total always equals the payment
// amount, with a single flat tax field (zero here, set by callers when a
// jurisdiction requires it).
func BuildForPayment(id string, p payment.Payment, pkg catalog.Package, buyer Buyer, now time.Time) Invoice {
	items := []LineItem{
		{
			Description: pkg.Name,
			Quantity:    1,
			UnitPrice:   p.Amount,
			Amount:      p.Amount,
		},
	}

	return Invoice{
		ID:        id,
		PaymentID: p.ID,
		Number:    Number(p.ID, now),
		Buyer:     buyer,
		Items:     items,
		Subtotal:  p.Amount,
		Tax:       0,
		Total:     p.Amount,
		Currency:  p.Currency,
		IssuedAt:  now,
		CreatedAt: now,
	}
}
