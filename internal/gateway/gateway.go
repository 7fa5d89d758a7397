package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accord.org/internal/audit"
	"accord.org/internal/governance"
	"accord.org/internal/licensing"
	"accord.org/internal/obs"
	"accord.org/internal/policy"
	"accord.org/internal/stream"
)

// ErrMissingEndorsement is returned when the declared endorsement set does
// not cover the organizations an operation requires.
var ErrMissingEndorsement = errors.New("missing required endorsement")

// Call is one decoded invocation: who calls, what they call, and which
// organizations endorse the transaction.
type Call struct {
	Caller    policy.Caller
	Op        Operation
	Endorsers []string
}

// Gateway routes decoded operations to the services behind them.
type Gateway struct {
	policy *policy.Evaluator
	gov    *governance.Service
	lic    *licensing.Service
	events *stream.Stream
}

// New wires a gateway. events may be nil when no live feed is attached.
func New(eval *policy.Evaluator, gov *governance.Service, lic *licensing.Service, events *stream.Stream) *Gateway {
	return &Gateway{policy: eval, gov: gov, lic: lic, events: events}
}

// Invoke runs one operation end to end: policy check, endorsement check,
// dispatch, metrics and audit. The result is JSON-serializable.
func (g *Gateway) Invoke(ctx context.Context, call Call) (any, error) {
	op := call.Op
	caller := call.Caller

	if priv := op.privilege(); priv != "" {
		status, err := g.gov.GetAccountStatus(ctx, caller.Org)
		if err != nil {
			return nil, err
		}
		if err := g.policy.Check(caller, string(status), priv); err != nil {
			obs.ObserveFailure(op.Name())
			return nil, err
		}
	}
	if err := g.checkEndorsement(call); err != nil {
		obs.ObserveFailure(op.Name())
		return nil, err
	}

	result, err := g.dispatch(ctx, caller, op)
	if err != nil {
		if op.mutating() {
			obs.ObserveFailure(op.Name())
		}
		return nil, err
	}
	if op.mutating() {
		obs.ObserveCommit(op.Name())
		_ = audit.LogEvent(ctx, "ledger."+op.Name(), map[string]any{"org": caller.Org})
		if g.events != nil {
			g.events.Publish(stream.CommitEvent{Operation: op.Name(), Org: caller.Org, Timestamp: time.Now().UTC()})
		}
	}
	return result, nil
}

// checkEndorsement enforces the declared endorsement sets: asset-side
// writes carry the home organization, license hand-overs carry both
// counterparties.
func (g *Gateway) checkEndorsement(call Call) error {
	var required []string
	switch op := call.Op.(type) {
	case AddAsset, AddLicenses, RemoveLicenses, UpdateEndDate:
		required = []string{g.policy.HomeOrg}
	case SendLicenses:
		required = []string{g.policy.HomeOrg, op.Request.Account}
	case InitiateReturn:
		required = []string{g.policy.HomeOrg, op.Request.Account}
	default:
		return nil
	}
	for _, org := range required {
		if !containsOrg(call.Endorsers, org) {
			return fmt.Errorf("%w: %s", ErrMissingEndorsement, org)
		}
	}
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, caller policy.Caller, op Operation) (any, error) {
	switch op := op.(type) {
	case Bootstrap:
		return nil, g.gov.Bootstrap(ctx, caller.Org)
	case UpdateMOU:
		return nil, g.gov.UpdateMOU(ctx, op.Text)
	case GetMOU:
		return g.gov.GetMOU(ctx)
	case GetMOUHistory:
		return g.gov.GetMOUHistory(ctx)
	case SignMOU:
		return nil, g.gov.SignMOU(ctx, caller.Org, op.Version)
	case Join:
		return nil, g.gov.Join(ctx, caller.Org)
	case InitiateVote:
		return g.gov.InitiateVote(ctx, caller.Org, op.Target, governance.Status(op.StatusChange), op.Reason)
	case Vote:
		return nil, g.gov.CastVote(ctx, caller.Org, op.Approve)
	case CertifyOngoingVote:
		return g.gov.CertifyOngoingVote(ctx)
	case GetOngoingVote:
		return g.gov.GetOngoingVote(ctx)
	case GetVoteHistory:
		return g.gov.GetVoteHistory(ctx, op.Account)
	case GetAccounts:
		return g.gov.GetAccounts(ctx)
	case GetAccount:
		return g.gov.GetAccount(ctx, op.Account)
	case GetAccountStatus:
		return g.gov.GetAccountStatus(ctx, caller.Org)
	case GetAccountHistory:
		return g.gov.GetAccountHistory(ctx, op.Account)
	case CreateATO:
		return g.gov.CreateATO(ctx, caller.Org, op.Memo, op.Artifacts)
	case UpdateATO:
		return g.gov.UpdateATO(ctx, caller.Org, op.Memo, op.Artifacts)
	case SubmitFeedback:
		return nil, g.gov.SubmitFeedback(ctx, caller.Org, op.Target, op.ATOVersion, op.Comments)
	case GetATO:
		return g.gov.GetATO(ctx, op.Account)
	case GetATOHistory:
		return g.gov.GetATOHistory(ctx, op.Account)

	case GetAllRoles:
		return policy.Roles(op.Group), nil
	case GetAllPrivileges:
		return policy.Privileges(op.Group), nil

	case AddAsset:
		return g.lic.AddAsset(ctx, op.AssetName, op.EndDate, op.Licenses)
	case AddLicenses:
		return g.lic.AddLicenses(ctx, op.AssetID, op.Licenses)
	case RemoveLicenses:
		return g.lic.RemoveLicenses(ctx, op.AssetID, op.Licenses)
	case UpdateEndDate:
		return nil, g.lic.UpdateEndDate(ctx, op.AssetID, op.EndDate)
	case GetAssets:
		return g.lic.GetAssets(ctx)
	case GetAsset:
		detail := g.policyAllows(ctx, caller, policy.PrivReadAssetDetail)
		return g.lic.GetAsset(ctx, op.AssetID, detail)
	case GetAssetHistory:
		return g.lic.GetAssetHistory(ctx, op.AssetID)
	case GetLicenseTxHistory:
		return g.lic.GetLicenseTxHistory(ctx, op.AssetID, op.LicenseID)
	case GetQuote:
		return g.lic.GetQuote(ctx, caller.Org, op.AssetID, op.Amount, op.Duration, op.OrderID)
	case SendQuote:
		return g.lic.SendQuote(ctx, op.Account, op.OrderID, op.Price)
	case InitiateOrder:
		return g.lic.InitiateOrder(ctx, caller.Org, op.OrderID, op.Amount, op.Duration)
	case ApproveOrder:
		return g.lic.ApproveOrder(ctx, op.Account, op.OrderID)
	case DenyOrder:
		return g.lic.DenyOrder(ctx, op.Account, op.OrderID)
	case GetLicensesToAllocateForOrder:
		return g.lic.GetLicensesToAllocateForOrder(ctx, op.Account, op.OrderID)
	case AllocateLicenses:
		return g.lic.AllocateLicenses(ctx, op.Request)
	case GetAllocateRequestForOrder:
		return g.lic.GetAllocateRequestForOrder(ctx, op.OrderID)
	case SendLicenses:
		return g.lic.SendLicenses(ctx, op.Request)
	case GetAvailableLicensesForOrder:
		return g.lic.GetAvailableLicensesForOrder(ctx, op.Account, op.OrderID)
	case InitiateReturn:
		return nil, g.lic.InitiateReturn(ctx, op.Request)
	case GetInitiatedReturnForOrder:
		return g.lic.GetInitiatedReturnForOrder(ctx, op.OrderID)
	case DeallocateLicensesFromAccount:
		return nil, g.lic.DeallocateLicensesFromAccount(ctx, op.Request)
	case DeallocateLicensesFromSP:
		return nil, g.lic.DeallocateLicensesFromSP(ctx, op.OrderID)
	case GetOrder:
		return g.lic.GetOrder(ctx, op.Account, op.OrderID)
	case GetOrdersByAccount:
		return g.lic.GetOrdersByAccount(ctx, op.Account)
	case GetOrdersByAccountAndAsset:
		return g.lic.GetOrdersByAccountAndAsset(ctx, op.Account, op.AssetID)
	case GetOrdersByAsset:
		return g.lic.GetOrdersByAsset(ctx, op.AssetID)
	case GetExpiredOrders:
		// The home organization oversees every account's orders.
		account := caller.Org
		if caller.Org == g.policy.HomeOrg {
			account = ""
		}
		return g.lic.GetExpiredOrders(ctx, account, time.Now().UTC())
	case GetOrderHistory:
		return g.lic.GetOrderHistory(ctx, op.Account, op.OrderID)
	case ReportSWID:
		return nil, g.lic.ReportSWID(ctx, op.Record)
	case GetSWID:
		return g.lic.GetSWID(ctx, op.Account, op.OrderID, op.LicenseID)
	case DeleteSWID:
		return nil, g.lic.DeleteSWID(ctx, op.Account, op.OrderID, op.LicenseID)
	case GetLicensesWithSWIDsForOrder:
		return g.lic.GetLicensesWithSWIDsForOrder(ctx, op.Account, op.OrderID)
	}
	return nil, fmt.Errorf("unknown operation %s", op.Name())
}

// policyAllows probes a secondary privilege without failing the call; used
// for privilege-gated projections.
func (g *Gateway) policyAllows(ctx context.Context, caller policy.Caller, priv policy.Privilege) bool {
	status, err := g.gov.GetAccountStatus(ctx, caller.Org)
	if err != nil {
		return false
	}
	return g.policy.Check(caller, string(status), priv) == nil
}

func containsOrg(orgs []string, org string) bool {
	for _, o := range orgs {
		if o == org {
			return true
		}
	}
	return false
}
