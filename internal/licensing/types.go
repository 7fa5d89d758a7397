package licensing

import (
	"errors"
	"time"
)

// DateLayout is the wire format for asset end dates.
const DateLayout = "2006-01-02 15:04:05"

// Asset is the stored registry record. Inventory state lives in the
// per-license records; the asset keeps the insertion order of its
// license ids so allocation planning is deterministic.
type Asset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	TotalAmount int       `json:"totalAmount"`
	LicenseIDs  []string  `json:"licenses"`
}

// LicenseInput is one serialized license presented to AddAsset or
// AddLicenses.
type LicenseInput struct {
	ID   string `json:"id"`
	Salt string `json:"salt"`
}

// Allocation marks a license as held by one (account, order) pair.
type Allocation struct {
	Account    string    `json:"account"`
	OrderID    string    `json:"orderId"`
	Expiration time.Time `json:"expiration"`
}

// License is the stored record for one serialized license.
type License struct {
	ID        string      `json:"id"`
	Salt      string      `json:"salt"`
	Allocated *Allocation `json:"allocated,omitempty"`
}

// AllocatedLicense is the detail-view entry for one allocated license.
type AllocatedLicense struct {
	ID         string    `json:"id"`
	Expiration time.Time `json:"expiration"`
}

// AssetView is the read projection of an asset. The inventory fields are
// populated only for callers holding the asset detail privilege.
type AssetView struct {
	ID                string                                   `json:"id"`
	Name              string                                   `json:"name"`
	StartDate         time.Time                                `json:"startDate"`
	EndDate           time.Time                                `json:"endDate"`
	TotalAmount       int                                      `json:"totalAmount,omitempty"`
	NumAvailable      int                                      `json:"numAvailable,omitempty"`
	AvailableLicenses []string                                 `json:"availableLicenses,omitempty"`
	AllocatedLicenses map[string]map[string][]AllocatedLicense `json:"allocatedLicenses,omitempty"`
}

// Order states. A renewal cycle repeats the quote/initiate/approve leg on
// the same order id with RENEWAL_* variants.
type OrderStatus string

const (
	StatusQuoteRequested        OrderStatus = "QUOTE_REQUESTED"
	StatusQuoteReceived         OrderStatus = "QUOTE_RECEIVED"
	StatusInitiated             OrderStatus = "INITIATED"
	StatusApproved              OrderStatus = "APPROVED"
	StatusAllocated             OrderStatus = "ALLOCATED"
	StatusDenied                OrderStatus = "DENIED"
	StatusRenewalQuoteRequested OrderStatus = "RENEWAL_QUOTE_REQUESTED"
	StatusRenewalQuoteReceived  OrderStatus = "RENEWAL_QUOTE_RECEIVED"
	StatusRenewalInitiated      OrderStatus = "RENEWAL_INITIATED"
	StatusRenewalApproved       OrderStatus = "RENEWAL_APPROVED"
	StatusRenewalDenied         OrderStatus = "RENEWAL_DENIED"
)

// Order persists across its whole lifecycle, renewals included.
type Order struct {
	ID                string      `json:"id"`
	Account           string      `json:"account"`
	AssetID           string      `json:"assetId"`
	Amount            int         `json:"amount"`
	Duration          int         `json:"duration"`
	Status            OrderStatus `json:"status"`
	Price             string      `json:"price,omitempty"`
	InitiationDate    time.Time   `json:"initiationDate"`
	ApprovalDate      time.Time   `json:"approvalDate"`
	AllocatedDate     time.Time   `json:"allocatedDate"`
	LatestRenewalDate time.Time   `json:"latestRenewalDate"`
	Expiration        time.Time   `json:"expiration"`
	Licenses          []string    `json:"licenses,omitempty"`
}

// AllocateRequest is the allocation plan and, once committed, the recorded
// allocate request for an order.
type AllocateRequest struct {
	Account    string    `json:"account"`
	OrderID    string    `json:"orderId"`
	Licenses   []string  `json:"licenses"`
	Expiration time.Time `json:"expiration"`
}

// ReturnRequest is a pending license return for an order.
type ReturnRequest struct {
	Account    string    `json:"account"`
	OrderID    string    `json:"orderId"`
	AssetID    string    `json:"assetId"`
	Licenses   []string  `json:"licenses"`
	Expiration time.Time `json:"expiration"`
}

// Lease is the account-side record of licenses delivered via SendLicenses.
type Lease struct {
	Account    string    `json:"account"`
	OrderID    string    `json:"orderId"`
	Licenses   []string  `json:"licenses"`
	Expiration time.Time `json:"expiration"`
}

// SWID is the software identification tag for one leased license.
type SWID struct {
	Account    string `json:"account"`
	OrderID    string `json:"orderId"`
	LicenseID  string `json:"licenseId"`
	PrimaryTag string `json:"primaryTag"`
	XML        string `json:"xml"`
}

// AssetSnapshot is one historical asset state with its tx stamp.
type AssetSnapshot struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Asset     Asset     `json:"asset"`
}

// LicenseSnapshot is one historical license state with its tx stamp.
type LicenseSnapshot struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	License   License   `json:"license"`
}

// OrderSnapshot is one historical order state with its tx stamp.
type OrderSnapshot struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Order     Order     `json:"order"`
}

var (
	ErrNotFound             = errors.New("does not exist")
	ErrInvalidDate          = errors.New("invalid date format")
	ErrDuplicateLicense     = errors.New("duplicate licenses are not allowed")
	ErrLicenseExists        = errors.New("already exists")
	ErrAllocationConflict   = errors.New("is already allocated")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrInsufficientLicenses = errors.New("not enough available licenses")
	ErrNoAllocateRequest    = errors.New("no allocate request exists")
	ErrNoReturnRequest      = errors.New("no deallocate request exists")
	ErrReturnActive         = errors.New("already active")
	ErrNotLeased            = errors.New("not leased")
	ErrSendMismatch         = errors.New("provided licenses to send do not match the licenses allocated")
	ErrReturnMismatch       = errors.New("provided deallocation request does not match the one initiated")
	ErrLicenseNotFound      = errors.New("license not found")
)
