// Package policy decides whether a caller may execute an operation. Roles
// and their privilege sets are fixed at compile time; the only runtime
// inputs are the caller's role, organization and the organization's
// authorization status.
package policy

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is the terminal result of every failed policy check. The
// message substring "unauthorized" is stable for callers.
var ErrUnauthorized = errors.New("unauthorized")

// Role is one of the four fixed organization roles.
type Role string

const (
	AuthorizingOfficial Role = "Authorizing Official"
	AcquisitionOfficer  Role = "Acquisition Officer"
	TechnicalPOC        Role = "Technical Point of Contact"
	LicenseOwner        Role = "License Owner"
)

// Privilege names one guarded capability. Every gateway operation maps to
// exactly one privilege.
type Privilege string

const (
	// authorization group
	PrivBootstrap      Privilege = "bootstrap"
	PrivUpdateMOU      Privilege = "update_mou"
	PrivGetMOU         Privilege = "get_mou"
	PrivSignMOU        Privilege = "sign_mou"
	PrivJoin           Privilege = "join"
	PrivWriteATO       Privilege = "write_ato"
	PrivReadATO        Privilege = "read_ato"
	PrivSubmitFeedback Privilege = "submit_feedback"
	PrivInitiateVote   Privilege = "initiate_vote"
	PrivVote           Privilege = "vote"
	PrivCertifyVote    Privilege = "certify_vote"

	// asset group
	PrivWriteAsset      Privilege = "write_asset"
	PrivReadAssets      Privilege = "read_assets"
	PrivReadAssetDetail Privilege = "read_asset_detail"
	PrivInitiateOrder   Privilege = "initiate_order"
	PrivApproveOrder    Privilege = "approve_order"
	PrivDenyOrder       Privilege = "deny_order"
	PrivReadOrder       Privilege = "read_order"
	PrivAllocateLicense Privilege = "allocate_license"
	PrivReturnLicense   Privilege = "return_license"
	PrivReadLicense     Privilege = "read_license"
	PrivWriteSWID       Privilege = "write_swid"
	PrivReadSWID        Privilege = "read_swid"
)

// Capability groups for the introspection reads.
const (
	GroupAuthorization = "authorization"
	GroupAsset         = "asset"
)

// Caller is the already-authenticated identity presented by the gateway.
type Caller struct {
	Org  string
	User string
	Role Role
}

// Account status values as seen by the evaluator. Declared here so the
// evaluator does not depend on the governance package.
const (
	StatusAuthorized   = "AUTHORIZED"
	StatusUnauthorized = "UNAUTHORIZED"
)

var rolePrivileges = map[Role]map[Privilege]struct{}{
	AuthorizingOfficial: privSet(
		PrivBootstrap, PrivUpdateMOU, PrivGetMOU, PrivSignMOU, PrivJoin,
		PrivWriteATO, PrivReadATO, PrivSubmitFeedback,
		PrivInitiateVote, PrivVote, PrivCertifyVote,
	),
	LicenseOwner: privSet(
		PrivReadAssets, PrivWriteAsset, PrivReadAssetDetail,
		PrivReadOrder, PrivReadSWID,
	),
	AcquisitionOfficer: privSet(
		PrivReadAssets, PrivReadAssetDetail, PrivAllocateLicense,
		PrivReadOrder, PrivApproveOrder, PrivDenyOrder,
		PrivReadLicense, PrivReadSWID,
	),
	TechnicalPOC: privSet(
		PrivReadAssets, PrivInitiateOrder, PrivReadOrder, PrivReadSWID,
		PrivWriteSWID, PrivReadLicense, PrivReturnLicense,
	),
}

// openPrivileges may be exercised by organizations that are not (yet)
// authorized; everything required to onboard and to run the vote itself.
var openPrivileges = privSet(
	PrivBootstrap, PrivUpdateMOU, PrivGetMOU, PrivSignMOU, PrivJoin,
	PrivInitiateVote, PrivVote, PrivCertifyVote,
)

// homeOnlyPrivileges belong to the process-wide home organization seat.
var homeOnlyPrivileges = privSet(
	PrivBootstrap, PrivUpdateMOU, PrivWriteAsset,
)

var groupPrivileges = map[string][]Privilege{
	GroupAuthorization: {
		PrivBootstrap, PrivUpdateMOU, PrivGetMOU, PrivSignMOU, PrivJoin,
		PrivWriteATO, PrivReadATO, PrivSubmitFeedback,
		PrivInitiateVote, PrivVote, PrivCertifyVote,
	},
	GroupAsset: {
		PrivWriteAsset, PrivReadAssets, PrivReadAssetDetail,
		PrivInitiateOrder, PrivApproveOrder, PrivDenyOrder, PrivReadOrder,
		PrivAllocateLicense, PrivReturnLicense, PrivReadLicense,
		PrivWriteSWID, PrivReadSWID,
	},
}

var groupRoles = map[string][]Role{
	GroupAuthorization: {AuthorizingOfficial},
	GroupAsset:         {AcquisitionOfficer, TechnicalPOC, LicenseOwner},
}

// Evaluator checks (role, organization status, privilege) against the fixed
// tables. HomeOrg is the organization holding the administrative seat.
type Evaluator struct {
	HomeOrg string
}

func NewEvaluator(homeOrg string) *Evaluator {
	return &Evaluator{HomeOrg: homeOrg}
}

// Check returns nil when the caller may exercise priv, or ErrUnauthorized
// wrapped with the reason. status is the caller organization's account
// status; organizations without an account pass StatusUnauthorized.
func (e *Evaluator) Check(caller Caller, status string, priv Privilege) error {
	privs, ok := rolePrivileges[caller.Role]
	if !ok {
		return fmt.Errorf("%w: unknown role %q", ErrUnauthorized, caller.Role)
	}
	if _, ok := privs[priv]; !ok {
		return fmt.Errorf("%w: role %s does not hold %s", ErrUnauthorized, caller.Role, priv)
	}

	home := caller.Org == e.HomeOrg
	if _, homeOnly := homeOnlyPrivileges[priv]; homeOnly && !home {
		return fmt.Errorf("%w: %s is reserved for the home organization", ErrUnauthorized, priv)
	}

	// The home organization's ACQ administers allocation but never
	// approves its own customers' orders; outside organizations' ACQs
	// approve their own orders but see no pool internals.
	if caller.Role == AcquisitionOfficer {
		if home && (priv == PrivApproveOrder || priv == PrivDenyOrder) {
			return fmt.Errorf("%w: home organization may not %s", ErrUnauthorized, priv)
		}
		if !home && (priv == PrivReadAssetDetail || priv == PrivAllocateLicense) {
			return fmt.Errorf("%w: %s requires the home organization seat", ErrUnauthorized, priv)
		}
	}

	if status != StatusAuthorized {
		if _, open := openPrivileges[priv]; !open {
			return fmt.Errorf("%w: organization %s is not authorized", ErrUnauthorized, caller.Org)
		}
	}
	return nil
}

// ValidRole reports whether name is one of the fixed exchange roles.
func ValidRole(name string) bool {
	_, ok := rolePrivileges[Role(name)]
	return ok
}

// Roles returns the roles participating in the named capability group.
func Roles(group string) []string {
	roles := groupRoles[group]
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

// Privileges returns the privileges of the named capability group.
func Privileges(group string) []string {
	privs := groupPrivileges[group]
	out := make([]string, 0, len(privs))
	for _, p := range privs {
		out = append(out, string(p))
	}
	return out
}

func privSet(privs ...Privilege) map[Privilege]struct{} {
	set := make(map[Privilege]struct{}, len(privs))
	for _, p := range privs {
		set[p] = struct{}{}
	}
	return set
}
