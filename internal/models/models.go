package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the marketplace role of a user
type Role string

const (
	RoleFarmer      Role = "Farmer"
	RoleDistributor Role = "Distributor"
	RoleInvestor    Role = "Investor"
	RoleAdmin       Role = "Admin"
	RoleLogistics   Role = "Logistics"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleDistributor, RoleInvestor, RoleAdmin, RoleLogistics:
		return true
	}
	return false
}

// KYCStatus tracks identity verification of a user
type KYCStatus string

const (
	KYCNotSubmitted KYCStatus = "Not Submitted"
	KYCPending      KYCStatus = "Pending"
	KYCVerified     KYCStatus = "Verified"
	KYCRejected     KYCStatus = "Rejected"
)

// User represents a marketplace participant. ID is the normalized email.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	KYCStatus    KYCStatus `json:"kycStatus"`
	Location     string    `json:"location"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	PasswordSalt string    `json:"passwordSalt,omitempty"`
}

func (u User) EntityID() string { return u.ID }

// Public returns a copy of the user without credential material
func (u User) Public() User {
	u.PasswordHash = ""
	u.PasswordSalt = ""
	return u
}

// NormalizeUserID turns an email into a user id
func NormalizeUserID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Grade is the produce quality grade of a listing
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
)

// Valid reports whether g is a known grade
func (g Grade) Valid() bool {
	return g == GradeA || g == GradeB || g == GradeC
}

// Listing represents produce offered by a farmer
type Listing struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Unit        string          `json:"unit"`
	Quantity    int             `json:"quantity"`
	Grade       Grade           `json:"grade"`
	HarvestDate string          `json:"harvestDate"`
	ImageURL    string          `json:"imageUrl"`
}

func (l Listing) EntityID() string { return l.ID }

// OrderStatus is a state of the order lifecycle
type OrderStatus string

const (
	OrderStatusPlaced            OrderStatus = "Placed"
	OrderStatusPaid              OrderStatus = "Paid"
	OrderStatusLogisticsPickedUp OrderStatus = "LogisticsPickedUp"
	OrderStatusShipped           OrderStatus = "Shipped"
	OrderStatusDelivered         OrderStatus = "Delivered"
	OrderStatusDisputed          OrderStatus = "Disputed"
	OrderStatusCancelled         OrderStatus = "Cancelled"
)

// AllOrderStatuses lists every status in lifecycle order
var AllOrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusPaid,
	OrderStatusLogisticsPickedUp,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusDisputed,
	OrderStatusCancelled,
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// StatusEntry is one element of an order audit trail
type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Order represents a purchase against a listing
type Order struct {
	ID                 string          `json:"id"`
	ListingID          string          `json:"listingId"`
	BuyerID            string          `json:"buyerId"`
	SellerID           string          `json:"sellerId"`
	Quantity           int             `json:"quantity"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Fees               decimal.Decimal `json:"fees"`
	Total              decimal.Decimal `json:"total"`
	Status             OrderStatus     `json:"status"`
	CreatedAt          time.Time       `json:"createdAt"`
	StatusHistory      []StatusEntry   `json:"statusHistory"`
	DisputeReason      string          `json:"disputeReason,omitempty"`
	DisputeEvidenceURL string          `json:"disputeEvidenceUrl,omitempty"`
}

func (o Order) EntityID() string { return o.ID }

// Open reports whether the order is neither delivered nor cancelled
func (o Order) Open() bool {
	return !o.Status.Terminal()
}

// TransactionType classifies escrow ledger entries
type TransactionType string

const (
	TransactionPayment TransactionType = "payment"
	TransactionPayout  TransactionType = "payout"
	TransactionRefund  TransactionType = "refund"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction represents money moving in or out of escrow for an order
type Transaction struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	PartyID   string          `json:"partyId"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

func (t Transaction) EntityID() string { return t.ID }

// Actor is the authenticated caller of a mutating operation
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
