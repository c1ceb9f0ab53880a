package entity

// ProfileKind discriminates whether a billing profile describes a brand-new
// registration or an organization that already exists in the portal. Callers
// must branch on this field rather than on the concrete shape of the data.
type ProfileKind string

const (
	ProfileKindRegistration ProfileKind = "registration"
	ProfileKindExisting     ProfileKind = "existing"
)

// BillingAddress is the address attached to a payment method.
type BillingAddress struct {
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
}

// CustomerBillingProfile is the transient contact and address form state
// collected while attaching a payment method. It lives only for the duration
// of one provisioning dialog and is never persisted client-side.
type CustomerBillingProfile struct {
	Kind           ProfileKind    `json:"kind"`
	ContactName    string         `json:"contact_name"`
	ContactEmail   string         `json:"contact_email"`
	ContactPhone   *string        `json:"contact_phone,omitempty"`
	CardholderName string         `json:"cardholder_name"`
	Address        BillingAddress `json:"address"`
}
