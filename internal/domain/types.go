package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CheckoutStep identifies a step in the checkout flow.
type CheckoutStep int

const (
	// StepCart is the cart review step.
	StepCart CheckoutStep = 1
	// StepIdentification collects contact data and resolves guest vs. authenticated.
	StepIdentification CheckoutStep = 2
	// StepDelivery collects delivery type, address, shipping cost, and payment method.
	StepDelivery CheckoutStep = 3
)

// LastStep is the highest step a checkout session can reach.
const LastStep = StepDelivery

// IdentityMode describes how the shopper is identified during checkout.
type IdentityMode string

const (
	IdentityUnknown       IdentityMode = "unknown"
	IdentityAuthenticated IdentityMode = "authenticated"
	IdentityGuestChosen   IdentityMode = "guest_chosen"
	IdentityGuestActive   IdentityMode = "guest_active"
	IdentityBlocked       IdentityMode = "blocked"
)

// DeliveryType selects between a quoted shipment and store pickup.
type DeliveryType string

const (
	DeliveryUnset    DeliveryType = ""
	DeliveryShipping DeliveryType = "shipping"
	DeliveryPickup   DeliveryType = "pickup"
)

// QuoteState tracks the shipping quote lifecycle for a session.
type QuoteState string

const (
	QuoteNotQuoted QuoteState = "not_quoted"
	QuoteQuoting   QuoteState = "quoting"
	QuoteQuoted    QuoteState = "quoted"
	QuoteFailed    QuoteState = "failed"
)

// CartLine is a snapshot of one cart position inside a checkout session.
// Lines are derived from the cart source and never persisted with the session.
type CartLine struct {
	ProductID    string
	Name         string
	UnitPrice    int64
	Quantity     int
	LineDiscount int64
	ImageRef     string
}

// Subtotal returns the line subtotal in minor units, net of the line discount.
func (l CartLine) Subtotal() int64 {
	if l.Quantity <= 0 || l.UnitPrice <= 0 {
		return 0
	}
	total := l.UnitPrice*int64(l.Quantity) - l.LineDiscount
	if total < 0 {
		return 0
	}
	return total
}

// ContactInfo holds the shopper contact data collected on the identification step.
type ContactInfo struct {
	Email     string
	FullName  string
	Phone     string
	GuestID   string
	AccountID string
}

// AddressFields is the mutable address form data on a session. PostalCode,
// Street, Number, City, and Province participate in shipping quotes.
type AddressFields struct {
	Street     string
	Number     string
	City       string
	Province   string
	PostalCode string
	Floor      string
	Notes      string
	// CandidateRef links the fields to a selected geocoding candidate.
	// Empty once the shopper edits any field manually.
	CandidateRef string
}

// CostAffecting reports whether the named field participates in the shipping
// quote, and therefore invalidates an existing quote when mutated.
func CostAffecting(field string) bool {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "street", "number", "city", "province", "postalcode":
		return true
	default:
		return false
	}
}

// Fingerprint condenses the cost-affecting fields into a comparable token so
// quotes can be validated against the inputs that produced them. Accented and
// unaccented spellings of the same locality compare equal.
func (a AddressFields) Fingerprint() string {
	parts := []string{a.Street, a.Number, a.City, a.Province, a.PostalCode}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(foldAccents(p)))
	}
	return strings.Join(parts, "|")
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// CartFingerprint condenses line identities and quantities into a comparable
// token. Line order is normalized; prices are excluded because a price change
// alone does not change what is shipped.
func CartFingerprint(lines []CartLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s*%d", strings.ToLower(strings.TrimSpace(l.ProductID)), l.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// QuoteFingerprint identifies the full input tuple a shipping quote was
// produced from. A quote whose fingerprint no longer matches the session's
// address and cart is stale and must be dropped, never applied.
func QuoteFingerprint(address AddressFields, lines []CartLine) string {
	return address.Fingerprint() + "#" + CartFingerprint(lines)
}

// Complete reports whether the fields required for quoting are present.
func (a AddressFields) Complete() bool {
	return strings.TrimSpace(a.Street) != "" &&
		strings.TrimSpace(a.Number) != "" &&
		strings.TrimSpace(a.City) != "" &&
		strings.TrimSpace(a.Province) != "" &&
		strings.TrimSpace(a.PostalCode) != ""
}

// AddressCandidate is a normalized address produced by the geocoding lookup.
type AddressCandidate struct {
	ID               string
	FormattedAddress string
	Street           string
	Number           string
	City             string
	Province         string
	PostalCode       string
	Lat              float64
	Lon              float64
}

// ShippingQuote is valid only for the exact address fingerprint and cart that
// produced it; any input mutation resets the session cost to nil.
type ShippingQuote struct {
	Cost        int64
	Currency    string
	Fingerprint string
	QuotedAt    time.Time
}

// CheckoutSession is the single source of truth for checkout progress. It is
// persisted after every mutation; cart lines are re-synced from the cart
// source on load and deliberately excluded from durable storage.
type CheckoutSession struct {
	ID             string
	ShopperID      string
	Step           CheckoutStep
	CompletedSteps map[CheckoutStep]bool
	Cart           []CartLine
	IdentityMode   IdentityMode
	Contact        ContactInfo
	DeliveryType   DeliveryType
	Address        AddressFields
	AddressLocked  bool
	QuoteState     QuoteState
	// ShippingCost is nil until quoted; nil is never treated as zero.
	ShippingCost   *int64
	QuoteCurrency  string
	QuoteFP        string
	PaymentMethod  string
	Observations   string
	SubmitInFlight bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StepCompleted reports whether the given step has been completed.
func (s CheckoutSession) StepCompleted(step CheckoutStep) bool {
	if s.CompletedSteps == nil {
		return false
	}
	return s.CompletedSteps[step]
}

// CanAdvanceTo reports whether every step below the target has been completed.
func (s CheckoutSession) CanAdvanceTo(step CheckoutStep) bool {
	if step <= StepCart {
		return step == StepCart
	}
	for prior := StepCart; prior < step; prior++ {
		if !s.StepCompleted(prior) {
			return false
		}
	}
	return true
}

// CartSubtotal sums the line subtotals in minor units.
func (s CheckoutSession) CartSubtotal() int64 {
	var total int64
	for _, line := range s.Cart {
		total += line.Subtotal()
	}
	return total
}

// IdentityResolved reports whether submission may proceed for this identity.
func (s CheckoutSession) IdentityResolved() bool {
	return s.IdentityMode == IdentityAuthenticated || s.IdentityMode == IdentityGuestActive
}

// OrderSubmission is the write-once payload sent to the order-creation
// collaborator. It is never mutated after submission.
type OrderSubmission struct {
	SubmissionID  string
	SessionID     string
	ShopperID     string
	GuestID       string
	Contact       ContactInfo
	PaymentMethod string
	Lines         []CartLine
	DeliveryType  DeliveryType
	Address       AddressFields
	ShippingCost  int64
	Currency      string
	Observations  string
	SubmittedAt   time.Time
}

// OrderReceipt is returned by the order-creation collaborator on success.
type OrderReceipt struct {
	OrderID       string
	PaymentMethod string
	// RedirectURL points at a hosted payment page when the method requires one.
	RedirectURL string
}

// BankDetails accompany transfer payments on the result view.
type BankDetails struct {
	BankName  string
	CBU       string
	Alias     string
	Holder    string
	Reference string
}

// PaymentOutcome is the externally reported payment result consumed by the
// status resolver, delivered via redirect query parameters or a lookup call.
type PaymentOutcome struct {
	Status      string
	OrderID     string
	BankDetails *BankDetails
}
