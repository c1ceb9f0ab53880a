package service

import (
	"regexp"
	"strings"

	"github.com/johncarlo20/growlink-sub002/domain/entity"
)

// FormSlot names a UI error slot a backend validation message can land in.
type FormSlot string

const (
	SlotCard        FormSlot = "card"
	SlotPostalCode  FormSlot = "postal_code"
	SlotEmail       FormSlot = "email"
	SlotContactName FormSlot = "contact_name"
	SlotPhone       FormSlot = "phone"
	SlotAddress     FormSlot = "address"
	SlotGeneral     FormSlot = "general"
)

// FieldErrors accumulates per-slot error messages across submissions.
type FieldErrors map[FormSlot][]string

// slotByServerKey is the static routing table from backend model-state keys
// to form slots. Unknown keys fall back to SlotGeneral.
var slotByServerKey = map[string]FormSlot{
	"card":            SlotCard,
	"card_number":     SlotCard,
	"payment_method":  SlotCard,
	"address_zip":     SlotPostalCode,
	"postal_code":     SlotPostalCode,
	"zip":             SlotPostalCode,
	"email":           SlotEmail,
	"contact_email":   SlotEmail,
	"name":            SlotContactName,
	"contact_name":    SlotContactName,
	"cardholder_name": SlotContactName,
	"phone":           SlotPhone,
	"contact_phone":   SlotPhone,
	"address_line1":   SlotAddress,
	"address_city":    SlotAddress,
	"address_state":   SlotAddress,
	"address_country": SlotAddress,
}

var emailTakenPattern = regexp.MustCompile(`(?i)(already\s+(taken|exists|in\s+use)|duplicate)`)

const emailTakenMessage = "An account with this email address already exists."

// ServerValidationMapper routes structured backend field-validation errors
// onto named form slots.
type ServerValidationMapper struct{}

// Apply merges a backend validation error into dst. Applying the same error
// set twice leaves dst unchanged: messages are de-duplicated per slot by
// exact string match before appending.
func (ServerValidationMapper) Apply(dst FieldErrors, verr *entity.ValidationError) {
	if verr == nil {
		return
	}
	for key, messages := range verr.Fields {
		slot := slotForKey(key)
		for _, msg := range messages {
			if slot == SlotEmail && emailTakenPattern.MatchString(msg) {
				msg = emailTakenMessage
			}
			if containsMessage(dst[slot], msg) {
				continue
			}
			dst[slot] = append(dst[slot], msg)
		}
	}
}

func slotForKey(key string) FormSlot {
	if slot, ok := slotByServerKey[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slot
	}
	return SlotGeneral
}

func containsMessage(existing []string, msg string) bool {
	for _, m := range existing {
		if m == msg {
			return true
		}
	}
	return false
}
