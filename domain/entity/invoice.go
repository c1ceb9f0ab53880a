package entity

import "time"

// InvoiceStatus represents the status of an invoice in billing history.
type InvoiceStatus string

const (
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// InvoiceRecord is one row of an organization's billing history as returned
// by the portal backend.
type InvoiceRecord struct {
	ID            string        `json:"id"`
	InvoiceNumber string        `json:"invoice_number"`
	Amount        Money         `json:"amount"`
	Status        InvoiceStatus `json:"status"`
	IssuedAt      time.Time     `json:"issued_at"`
	PDFURL        string        `json:"pdf_url,omitempty"`
}
