// Package gateway is the single entry point for ledger operations. Callers
// present an operation name, positional string arguments and an optional
// transient payload; the gateway decodes them once into a closed union of
// typed operations, runs the policy and endorsement checks, and dispatches
// to the governance and licensing services.
package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"accord.org/internal/licensing"
	"accord.org/internal/policy"
)

var validate = validator.New()

// Operation is the sealed union of everything the gateway can execute.
// Only types in this package implement it.
type Operation interface {
	Name() string
	privilege() policy.Privilege
	mutating() bool
}

type opSpec struct {
	name    string
	priv    policy.Privilege
	mutates bool
}

func (s opSpec) privilege() policy.Privilege { return s.priv }
func (s opSpec) mutating() bool              { return s.mutates }

// Governance operations.

type Bootstrap struct{ opSpec }
type UpdateMOU struct {
	opSpec
	Text string
}
type GetMOU struct{ opSpec }
type GetMOUHistory struct{ opSpec }
type SignMOU struct {
	opSpec
	Version int
}
type Join struct{ opSpec }
type InitiateVote struct {
	opSpec
	Target       string
	StatusChange string
	Reason       string
}
type Vote struct {
	opSpec
	Approve bool
}
type CertifyOngoingVote struct{ opSpec }
type GetOngoingVote struct{ opSpec }
type GetVoteHistory struct {
	opSpec
	Account string
}
type GetAccounts struct{ opSpec }
type GetAccount struct {
	opSpec
	Account string
}
type GetAccountStatus struct{ opSpec }
type GetAccountHistory struct {
	opSpec
	Account string
}

type atoPayload struct {
	Memo      string `json:"memo" validate:"required"`
	Artifacts string `json:"artifacts" validate:"required"`
}

type CreateATO struct {
	opSpec
	Memo      string
	Artifacts string
}
type UpdateATO struct {
	opSpec
	Memo      string
	Artifacts string
}

type feedbackPayload struct {
	Comments string `json:"comments" validate:"required"`
}

type SubmitFeedback struct {
	opSpec
	Target     string
	ATOVersion int
	Comments   string
}
type GetATO struct {
	opSpec
	Account string
}
type GetATOHistory struct {
	opSpec
	Account string
}

// Policy introspection operations.

type GetAllRoles struct {
	opSpec
	Group string
}
type GetAllPrivileges struct {
	opSpec
	Group string
}

// Licensing operations.

type licensesPayload struct {
	Licenses []licensing.LicenseInput `json:"licenses" validate:"required,min=1,dive"`
}

type licenseIDsPayload struct {
	Licenses []string `json:"licenses" validate:"required,min=1,dive,required"`
}

type allocatePayload struct {
	Account    string    `json:"account" validate:"required"`
	OrderID    string    `json:"orderId" validate:"required"`
	Licenses   []string  `json:"licenses" validate:"required,min=1,dive,required"`
	Expiration time.Time `json:"expiration"`
}

type returnPayload struct {
	Account    string    `json:"account" validate:"required"`
	OrderID    string    `json:"orderId" validate:"required"`
	AssetID    string    `json:"assetId" validate:"required"`
	Licenses   []string  `json:"licenses" validate:"required,min=1,dive,required"`
	Expiration time.Time `json:"expiration"`
}

type swidPayload struct {
	Account    string `json:"account" validate:"required"`
	OrderID    string `json:"orderId" validate:"required"`
	LicenseID  string `json:"licenseId" validate:"required"`
	PrimaryTag string `json:"primaryTag" validate:"required"`
	XML        string `json:"xml" validate:"required"`
}

type AddAsset struct {
	opSpec
	AssetName string
	EndDate   string
	Licenses  []licensing.LicenseInput
}
type AddLicenses struct {
	opSpec
	AssetID  string
	Licenses []licensing.LicenseInput
}
type RemoveLicenses struct {
	opSpec
	AssetID  string
	Licenses []string
}
type UpdateEndDate struct {
	opSpec
	AssetID string
	EndDate string
}
type GetAssets struct{ opSpec }
type GetAsset struct {
	opSpec
	AssetID string
}
type GetAssetHistory struct {
	opSpec
	AssetID string
}
type GetLicenseTxHistory struct {
	opSpec
	AssetID   string
	LicenseID string
}
type GetQuote struct {
	opSpec
	AssetID  string
	Amount   int
	Duration int
	OrderID  string
}
type SendQuote struct {
	opSpec
	Account string
	OrderID string
	Price   string
}
type InitiateOrder struct {
	opSpec
	OrderID  string
	Amount   int
	Duration int
}
type ApproveOrder struct {
	opSpec
	Account string
	OrderID string
}
type DenyOrder struct {
	opSpec
	Account string
	OrderID string
}
type GetLicensesToAllocateForOrder struct {
	opSpec
	Account string
	OrderID string
}
type AllocateLicenses struct {
	opSpec
	Request licensing.AllocateRequest
}
type GetAllocateRequestForOrder struct {
	opSpec
	OrderID string
}
type SendLicenses struct {
	opSpec
	Request licensing.AllocateRequest
}
type GetAvailableLicensesForOrder struct {
	opSpec
	Account string
	OrderID string
}
type InitiateReturn struct {
	opSpec
	Request licensing.ReturnRequest
}
type GetInitiatedReturnForOrder struct {
	opSpec
	OrderID string
}
type DeallocateLicensesFromAccount struct {
	opSpec
	Request licensing.ReturnRequest
}
type DeallocateLicensesFromSP struct {
	opSpec
	OrderID string
}
type GetOrder struct {
	opSpec
	Account string
	OrderID string
}
type GetOrdersByAccount struct {
	opSpec
	Account string
}
type GetOrdersByAccountAndAsset struct {
	opSpec
	Account string
	AssetID string
}
type GetOrdersByAsset struct {
	opSpec
	AssetID string
}
type GetExpiredOrders struct{ opSpec }
type GetOrderHistory struct {
	opSpec
	Account string
	OrderID string
}
type ReportSWID struct {
	opSpec
	Record licensing.SWID
}
type GetSWID struct {
	opSpec
	Account   string
	OrderID   string
	LicenseID string
}
type DeleteSWID struct {
	opSpec
	Account   string
	OrderID   string
	LicenseID string
}
type GetLicensesWithSWIDsForOrder struct {
	opSpec
	Account string
	OrderID string
}

// Name returns the wire-level operation name.
func (s opSpec) Name() string { return s.name }

// Decode turns a wire-level call into a typed operation. args are the
// positional string arguments; transient is the optional private payload
// keyed by field group.
func Decode(name string, args []string, transient map[string][]byte) (Operation, error) {
	spec := func(priv policy.Privilege, mutates bool) opSpec {
		return opSpec{name: name, priv: priv, mutates: mutates}
	}
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("operation %s expects %d arguments, got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case "Bootstrap":
		return Bootstrap{spec(policy.PrivBootstrap, true)}, need(0)
	case "UpdateMOU":
		if err := need(1); err != nil {
			return nil, err
		}
		return UpdateMOU{spec(policy.PrivUpdateMOU, true), args[0]}, nil
	case "GetMOU":
		return GetMOU{spec(policy.PrivGetMOU, false)}, need(0)
	case "GetMOUHistory":
		return GetMOUHistory{spec(policy.PrivGetMOU, false)}, need(0)
	case "SignMOU":
		if err := need(1); err != nil {
			return nil, err
		}
		version, err := atoi(name, "version", args[0])
		if err != nil {
			return nil, err
		}
		return SignMOU{spec(policy.PrivSignMOU, true), version}, nil
	case "Join":
		return Join{spec(policy.PrivJoin, true)}, need(0)
	case "InitiateVote":
		if err := need(3); err != nil {
			return nil, err
		}
		return InitiateVote{spec(policy.PrivInitiateVote, true), args[0], args[1], args[2]}, nil
	case "Vote":
		if err := need(1); err != nil {
			return nil, err
		}
		approve, err := strconv.ParseBool(args[0])
		if err != nil {
			return nil, fmt.Errorf("operation %s: invalid ballot %q", name, args[0])
		}
		return Vote{spec(policy.PrivVote, true), approve}, nil
	case "CertifyOngoingVote":
		return CertifyOngoingVote{spec(policy.PrivCertifyVote, true)}, need(0)
	case "GetOngoingVote":
		return GetOngoingVote{spec("", false)}, need(0)
	case "GetVoteHistory":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetVoteHistory{spec("", false), args[0]}, nil
	case "GetAccounts":
		return GetAccounts{spec("", false)}, need(0)
	case "GetAccount":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAccount{spec("", false), args[0]}, nil
	case "GetAccountStatus":
		return GetAccountStatus{spec("", false)}, need(0)
	case "GetAccountHistory":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAccountHistory{spec("", false), args[0]}, nil
	case "CreateATO", "UpdateATO":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload atoPayload
		if err := decodeTransient(name, transient, "ato", &payload); err != nil {
			return nil, err
		}
		if name == "CreateATO" {
			return CreateATO{spec(policy.PrivWriteATO, true), payload.Memo, payload.Artifacts}, nil
		}
		return UpdateATO{spec(policy.PrivWriteATO, true), payload.Memo, payload.Artifacts}, nil
	case "SubmitFeedback":
		if err := need(2); err != nil {
			return nil, err
		}
		version, err := atoi(name, "atoVersion", args[1])
		if err != nil {
			return nil, err
		}
		var payload feedbackPayload
		if err := decodeTransient(name, transient, "feedback", &payload); err != nil {
			return nil, err
		}
		return SubmitFeedback{spec(policy.PrivSubmitFeedback, true), args[0], version, payload.Comments}, nil
	case "GetATO":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetATO{spec(policy.PrivReadATO, false), args[0]}, nil
	case "GetATOHistory":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetATOHistory{spec(policy.PrivReadATO, false), args[0]}, nil
	case "GetAllRoles":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAllRoles{spec("", false), args[0]}, nil
	case "GetAllPrivileges":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAllPrivileges{spec("", false), args[0]}, nil

	case "AddAsset":
		if err := need(2); err != nil {
			return nil, err
		}
		var payload licensesPayload
		if err := decodeTransient(name, transient, "licenses", &payload); err != nil {
			return nil, err
		}
		return AddAsset{spec(policy.PrivWriteAsset, true), args[0], args[1], payload.Licenses}, nil
	case "AddLicenses":
		if err := need(1); err != nil {
			return nil, err
		}
		var payload licensesPayload
		if err := decodeTransient(name, transient, "licenses", &payload); err != nil {
			return nil, err
		}
		return AddLicenses{spec(policy.PrivWriteAsset, true), args[0], payload.Licenses}, nil
	case "RemoveLicenses":
		if err := need(1); err != nil {
			return nil, err
		}
		var payload licenseIDsPayload
		if err := decodeTransient(name, transient, "licenses", &payload); err != nil {
			return nil, err
		}
		return RemoveLicenses{spec(policy.PrivWriteAsset, true), args[0], payload.Licenses}, nil
	case "UpdateEndDate":
		if err := need(2); err != nil {
			return nil, err
		}
		return UpdateEndDate{spec(policy.PrivWriteAsset, true), args[0], args[1]}, nil
	case "GetAssets":
		return GetAssets{spec(policy.PrivReadAssets, false)}, need(0)
	case "GetAsset":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAsset{spec(policy.PrivReadAssets, false), args[0]}, nil
	case "GetAssetHistory":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAssetHistory{spec(policy.PrivReadAssetDetail, false), args[0]}, nil
	case "GetLicenseTxHistory":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetLicenseTxHistory{spec(policy.PrivReadLicense, false), args[0], args[1]}, nil
	case "GetQuote":
		if len(args) != 3 && len(args) != 4 {
			return nil, fmt.Errorf("operation %s expects 3 or 4 arguments, got %d", name, len(args))
		}
		amount, err := atoi(name, "amount", args[1])
		if err != nil {
			return nil, err
		}
		duration, err := atoi(name, "duration", args[2])
		if err != nil {
			return nil, err
		}
		op := GetQuote{spec(policy.PrivInitiateOrder, true), args[0], amount, duration, ""}
		if len(args) == 4 {
			op.OrderID = args[3]
		}
		return op, nil
	case "SendQuote":
		if err := need(3); err != nil {
			return nil, err
		}
		return SendQuote{spec(policy.PrivAllocateLicense, true), args[0], args[1], args[2]}, nil
	case "InitiateOrder":
		if err := need(3); err != nil {
			return nil, err
		}
		amount, err := atoi(name, "amount", args[1])
		if err != nil {
			return nil, err
		}
		duration, err := atoi(name, "duration", args[2])
		if err != nil {
			return nil, err
		}
		return InitiateOrder{spec(policy.PrivInitiateOrder, true), args[0], amount, duration}, nil
	case "ApproveOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return ApproveOrder{spec(policy.PrivApproveOrder, true), args[0], args[1]}, nil
	case "DenyOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return DenyOrder{spec(policy.PrivDenyOrder, true), args[0], args[1]}, nil
	case "GetLicensesToAllocateForOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetLicensesToAllocateForOrder{spec(policy.PrivAllocateLicense, false), args[0], args[1]}, nil
	case "AllocateLicenses":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload allocatePayload
		if err := decodeTransient(name, transient, "request", &payload); err != nil {
			return nil, err
		}
		return AllocateLicenses{spec(policy.PrivAllocateLicense, true), allocateRequest(payload)}, nil
	case "GetAllocateRequestForOrder":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetAllocateRequestForOrder{spec(policy.PrivReadOrder, false), args[0]}, nil
	case "SendLicenses":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload allocatePayload
		if err := decodeTransient(name, transient, "request", &payload); err != nil {
			return nil, err
		}
		return SendLicenses{spec(policy.PrivAllocateLicense, true), allocateRequest(payload)}, nil
	case "GetAvailableLicensesForOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetAvailableLicensesForOrder{spec(policy.PrivReadLicense, false), args[0], args[1]}, nil
	case "InitiateReturn":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload returnPayload
		if err := decodeTransient(name, transient, "request", &payload); err != nil {
			return nil, err
		}
		return InitiateReturn{spec(policy.PrivReturnLicense, true), returnRequest(payload)}, nil
	case "GetInitiatedReturnForOrder":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetInitiatedReturnForOrder{spec(policy.PrivReadOrder, false), args[0]}, nil
	case "DeallocateLicensesFromAccount":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload returnPayload
		if err := decodeTransient(name, transient, "request", &payload); err != nil {
			return nil, err
		}
		return DeallocateLicensesFromAccount{spec(policy.PrivReturnLicense, true), returnRequest(payload)}, nil
	case "DeallocateLicensesFromSP":
		if err := need(1); err != nil {
			return nil, err
		}
		return DeallocateLicensesFromSP{spec(policy.PrivAllocateLicense, true), args[0]}, nil
	case "GetOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetOrder{spec(policy.PrivReadOrder, false), args[0], args[1]}, nil
	case "GetOrdersByAccount":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetOrdersByAccount{spec(policy.PrivReadOrder, false), args[0]}, nil
	case "GetOrdersByAccountAndAsset":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetOrdersByAccountAndAsset{spec(policy.PrivReadOrder, false), args[0], args[1]}, nil
	case "GetOrdersByAsset":
		if err := need(1); err != nil {
			return nil, err
		}
		return GetOrdersByAsset{spec(policy.PrivReadOrder, false), args[0]}, nil
	case "GetExpiredOrders":
		return GetExpiredOrders{spec(policy.PrivReadOrder, false)}, need(0)
	case "GetOrderHistory":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetOrderHistory{spec(policy.PrivReadOrder, false), args[0], args[1]}, nil
	case "ReportSWID":
		if err := need(0); err != nil {
			return nil, err
		}
		var payload swidPayload
		if err := decodeTransient(name, transient, "swid", &payload); err != nil {
			return nil, err
		}
		return ReportSWID{spec(policy.PrivWriteSWID, true), licensing.SWID{
			Account:    payload.Account,
			OrderID:    payload.OrderID,
			LicenseID:  payload.LicenseID,
			PrimaryTag: payload.PrimaryTag,
			XML:        payload.XML,
		}}, nil
	case "GetSWID":
		if err := need(3); err != nil {
			return nil, err
		}
		return GetSWID{spec(policy.PrivReadSWID, false), args[0], args[1], args[2]}, nil
	case "DeleteSWID":
		if err := need(3); err != nil {
			return nil, err
		}
		return DeleteSWID{spec(policy.PrivWriteSWID, true), args[0], args[1], args[2]}, nil
	case "GetLicensesWithSWIDsForOrder":
		if err := need(2); err != nil {
			return nil, err
		}
		return GetLicensesWithSWIDsForOrder{spec(policy.PrivReadSWID, false), args[0], args[1]}, nil
	}
	return nil, fmt.Errorf("unknown operation %s", name)
}

func atoi(op, field, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("operation %s: invalid %s %q", op, field, raw)
	}
	return n, nil
}

func decodeTransient(op string, transient map[string][]byte, key string, out any) error {
	raw, ok := transient[key]
	if !ok {
		return fmt.Errorf("operation %s requires transient field %q", op, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("operation %s: decode transient %q: %w", op, key, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("operation %s: invalid transient %q: %w", op, key, err)
	}
	return nil
}

func allocateRequest(p allocatePayload) licensing.AllocateRequest {
	return licensing.AllocateRequest{
		Account:    p.Account,
		OrderID:    p.OrderID,
		Licenses:   p.Licenses,
		Expiration: p.Expiration,
	}
}

func returnRequest(p returnPayload) licensing.ReturnRequest {
	return licensing.ReturnRequest{
		Account:    p.Account,
		OrderID:    p.OrderID,
		AssetID:    p.AssetID,
		Licenses:   p.Licenses,
		Expiration: p.Expiration,
	}
}
