// Command smoke-exchange drives a full onboarding, order and allocation
// round through the gateway against an in-memory ledger and verifies
// license pool conservation at every step.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"accord.org/internal/gateway"
	"accord.org/internal/governance"
	"accord.org/internal/licensing"
	"accord.org/internal/policy"
	"accord.org/internal/statelog"
	"accord.org/internal/stream"
)

const (
	homeOrg  = "Org1"
	customer = "Acme"
	endDate  = "2032-01-01 00:00:00"
)

func main() {
	log.SetFlags(0)

	ledger := statelog.NewInMemory()
	gw := gateway.New(
		policy.NewEvaluator(homeOrg),
		governance.NewService(ledger),
		licensing.NewService(ledger),
		stream.New(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adminAO := policy.Caller{Org: homeOrg, User: "admin", Role: policy.AuthorizingOfficial}
	adminACQ := policy.Caller{Org: homeOrg, User: "acq", Role: policy.AcquisitionOfficer}
	adminLO := policy.Caller{Org: homeOrg, User: "owner", Role: policy.LicenseOwner}
	acmeAO := policy.Caller{Org: customer, User: "acme-ao", Role: policy.AuthorizingOfficial}
	acmeACQ := policy.Caller{Org: customer, User: "acme-acq", Role: policy.AcquisitionOfficer}
	acmeTPOC := policy.Caller{Org: customer, User: "acme-tpoc", Role: policy.TechnicalPOC}

	// Onboard the customer organization.
	invoke(ctx, gw, adminAO, "Bootstrap", nil, nil)
	invoke(ctx, gw, adminAO, "UpdateMOU", []string{"exchange memorandum"}, nil)
	invoke(ctx, gw, acmeAO, "SignMOU", []string{"1"}, nil)
	invoke(ctx, gw, adminAO, "InitiateVote", []string{customer, "AUTHORIZED", "smoke onboarding"}, nil)
	invoke(ctx, gw, adminAO, "Vote", []string{"true"}, nil)
	invoke(ctx, gw, adminAO, "CertifyOngoingVote", nil, nil)
	invoke(ctx, gw, acmeAO, "Join", nil, nil)

	// Publish an asset with five licenses, then retire one.
	asset := invoke(ctx, gw, adminLO, "AddAsset", []string{"office-suite", endDate},
		transient("licenses", map[string]any{"licenses": []licensing.LicenseInput{
			{ID: "1", Salt: "s1"}, {ID: "2", Salt: "s2"}, {ID: "3", Salt: "s3"},
			{ID: "4", Salt: "s4"}, {ID: "5", Salt: "s5"},
		}}), homeOrg).(licensing.Asset)
	invoke(ctx, gw, adminLO, "RemoveLicenses", []string{asset.ID},
		transient("licenses", map[string]any{"licenses": []string{"5"}}), homeOrg)
	requireAvailable(ctx, gw, adminACQ, asset.ID, 4)

	// Order two licenses for one year.
	order := invoke(ctx, gw, acmeTPOC, "GetQuote", []string{asset.ID, "2", "1"}, nil).(licensing.Order)
	invoke(ctx, gw, adminACQ, "SendQuote", []string{customer, order.ID, "100"}, nil)
	invoke(ctx, gw, acmeTPOC, "InitiateOrder", []string{order.ID, "2", "1"}, nil)
	invoke(ctx, gw, acmeACQ, "ApproveOrder", []string{customer, order.ID}, nil)

	request := invoke(ctx, gw, adminACQ, "GetLicensesToAllocateForOrder", []string{customer, order.ID}, nil).(licensing.AllocateRequest)
	if len(request.Licenses) != 2 {
		log.Fatalf("unexpected allocation plan: %v", request.Licenses)
	}
	invoke(ctx, gw, adminACQ, "AllocateLicenses", nil, transient("request", request))
	requireAvailable(ctx, gw, adminACQ, asset.ID, 2)

	// Hand the licenses over and report a SWID tag for one of them.
	invoke(ctx, gw, adminACQ, "SendLicenses", nil, transient("request", request), homeOrg, customer)
	invoke(ctx, gw, acmeTPOC, "ReportSWID", nil, transient("swid", licensing.SWID{
		Account:    customer,
		OrderID:    order.ID,
		LicenseID:  request.Licenses[0],
		PrimaryTag: "<SoftwareIdentity/>",
		XML:        "<SoftwareIdentity/>",
	}))

	// Return everything.
	ret := licensing.ReturnRequest{
		Account:    customer,
		OrderID:    order.ID,
		AssetID:    asset.ID,
		Licenses:   request.Licenses,
		Expiration: request.Expiration,
	}
	invoke(ctx, gw, acmeTPOC, "InitiateReturn", nil, transient("request", ret), homeOrg, customer)
	invoke(ctx, gw, acmeTPOC, "DeallocateLicensesFromAccount", nil, transient("request", ret))
	invoke(ctx, gw, adminACQ, "DeallocateLicensesFromSP", []string{order.ID}, nil)
	requireAvailable(ctx, gw, adminACQ, asset.ID, 4)

	fmt.Printf("exchange smoke test passed: asset=%s order=%s\n", asset.ID, order.ID)
}

func invoke(ctx context.Context, gw *gateway.Gateway, caller policy.Caller, name string, args []string, transient map[string][]byte, endorsers ...string) any {
	op, err := gateway.Decode(name, args, transient)
	if err != nil {
		log.Fatalf("decode %s: %v", name, err)
	}
	result, err := gw.Invoke(ctx, gateway.Call{Caller: caller, Op: op, Endorsers: endorsers})
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return result
}

func transient(key string, payload any) map[string][]byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal %s payload: %v", key, err)
	}
	return map[string][]byte{key: raw}
}

func requireAvailable(ctx context.Context, gw *gateway.Gateway, caller policy.Caller, assetID string, want int) {
	view := invoke(ctx, gw, caller, "GetAsset", []string{assetID}, nil).(licensing.AssetView)
	if view.NumAvailable != want {
		log.Fatalf("license pool conservation failed: %d available, want %d", view.NumAvailable, want)
	}
}
