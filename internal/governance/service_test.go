package governance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"accord.org/internal/statelog"
)

const homeOrg = "Org1"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(statelog.NewInMemory())
	if err := svc.Bootstrap(context.Background(), homeOrg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc
}

func TestBootstrapOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.Bootstrap(ctx, homeOrg); !errors.Is(err, ErrAlreadyBootstrapped) {
		t.Fatalf("second bootstrap: got %v, want ErrAlreadyBootstrapped", err)
	}

	account, err := svc.GetAccount(ctx, homeOrg)
	if err != nil {
		t.Fatalf("get home account: %v", err)
	}
	if account.Status != StatusAuthorized || !account.Joined {
		t.Fatalf("home account = %+v, want authorized and joined", account)
	}
}

func TestUpdateMOUVersions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.GetMOU(ctx); !errors.Is(err, ErrMOUNotCreated) {
		t.Fatalf("get before create: got %v, want ErrMOUNotCreated", err)
	}

	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	if err := svc.UpdateMOU(ctx, "mou v2"); err != nil {
		t.Fatalf("update mou: %v", err)
	}

	mou, err := svc.GetMOU(ctx)
	if err != nil {
		t.Fatalf("get mou: %v", err)
	}
	if mou.Version != 2 || mou.Text != "mou v2" {
		t.Fatalf("mou = %+v, want version 2 with latest text", mou)
	}

	history, err := svc.GetMOUHistory(ctx)
	if err != nil {
		t.Fatalf("mou history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2", len(history))
	}
	if history[0].Version != 2 || history[1].Version != 1 {
		t.Fatalf("history not newest first: %+v", history)
	}
}

func TestSignMOU(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.SignMOU(ctx, "Org2", 1); !errors.Is(err, ErrMOUNotCreated) {
		t.Fatalf("sign before create: got %v, want ErrMOUNotCreated", err)
	}

	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}

	err := svc.SignMOU(ctx, "Org2", 7)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("sign wrong version: got %v, want ErrVersionMismatch", err)
	}
	if !strings.Contains(err.Error(), "signing MOU version 7, expected version 1") {
		t.Fatalf("sign wrong version message: %v", err)
	}

	if err := svc.SignMOU(ctx, "Org2", 1); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := svc.SignMOU(ctx, "Org2", 1); !errors.Is(err, ErrAlreadySigned) {
		t.Fatalf("re-sign same version: got %v, want ErrAlreadySigned", err)
	}

	account, err := svc.GetAccount(ctx, "Org2")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Status != StatusUnauthorized || account.Joined {
		t.Fatalf("account = %+v, want unauthorized and not joined", account)
	}
	if account.MOUVersion != 1 {
		t.Fatalf("signed version = %d, want 1", account.MOUVersion)
	}

	// A newer MOU version can always be signed on top.
	if err := svc.UpdateMOU(ctx, "mou v2"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	if err := svc.SignMOU(ctx, "Org2", 2); err != nil {
		t.Fatalf("sign v2: %v", err)
	}
}

func authorize(t *testing.T, svc *Service, org string) {
	t.Helper()
	ctx := context.Background()
	vote, err := svc.InitiateVote(ctx, homeOrg, org, StatusAuthorized, "onboarding")
	if err != nil {
		t.Fatalf("initiate vote for %s: %v", org, err)
	}
	for _, voter := range vote.Eligible {
		if err := svc.CastVote(ctx, voter, true); err != nil {
			t.Fatalf("cast vote for %s: %v", org, err)
		}
	}
	if _, err := svc.CertifyOngoingVote(ctx); err != nil {
		t.Fatalf("certify vote for %s: %v", org, err)
	}
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.Join(ctx, "Org2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join without account: got %v, want ErrNotFound", err)
	}

	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	if err := svc.SignMOU(ctx, "Org2", 1); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := svc.Join(ctx, "Org2"); err == nil || !strings.Contains(err.Error(), "UNAUTHORIZED") {
		t.Fatalf("join unauthorized: got %v", err)
	}

	authorize(t, svc, "Org2")

	// A stale signature blocks joining after the MOU moves on.
	if err := svc.UpdateMOU(ctx, "mou v2"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	err := svc.Join(ctx, "Org2")
	if !errors.Is(err, ErrMOUNotSigned) {
		t.Fatalf("join with stale signature: got %v, want ErrMOUNotSigned", err)
	}
	if !strings.Contains(err.Error(), "cannot join until MOU version 2 is signed") {
		t.Fatalf("join with stale signature message: %v", err)
	}

	if err := svc.SignMOU(ctx, "Org2", 2); err != nil {
		t.Fatalf("sign v2: %v", err)
	}
	if err := svc.Join(ctx, "Org2"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := svc.Join(ctx, "Org2"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("re-join: got %v, want ErrAlreadyJoined", err)
	}
}

func TestGetAccountStatus(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	status, err := svc.GetAccountStatus(ctx, "Stranger")
	if err != nil {
		t.Fatalf("status of unknown org: %v", err)
	}
	if status != StatusUnauthorized {
		t.Fatalf("status = %s, want UNAUTHORIZED", status)
	}

	status, err = svc.GetAccountStatus(ctx, homeOrg)
	if err != nil {
		t.Fatalf("status of home org: %v", err)
	}
	if status != StatusAuthorized {
		t.Fatalf("status = %s, want AUTHORIZED", status)
	}
}

func TestGetAccountHistory(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.GetAccountHistory(ctx, "Org2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("history of unknown account: got %v, want ErrNotFound", err)
	}

	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	if err := svc.SignMOU(ctx, "Org2", 1); err != nil {
		t.Fatalf("sign: %v", err)
	}
	authorize(t, svc, "Org2")
	if err := svc.Join(ctx, "Org2"); err != nil {
		t.Fatalf("join: %v", err)
	}

	history, err := svc.GetAccountHistory(ctx, "Org2")
	if err != nil {
		t.Fatalf("account history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3 (signed, authorized, joined)", len(history))
	}
	if !history[0].Account.Joined {
		t.Fatalf("latest snapshot = %+v, want joined", history[0].Account)
	}
	if history[2].Account.Status != StatusUnauthorized {
		t.Fatalf("oldest snapshot = %+v, want unauthorized", history[2].Account)
	}
	for i, snap := range history {
		if snap.TxID == "" || snap.Timestamp.IsZero() {
			t.Fatalf("snapshot %d missing tx stamp: %+v", i, snap)
		}
	}
}

func TestGetAccounts(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	for _, org := range []string{"Org3", "Org2"} {
		if err := svc.SignMOU(ctx, org, 1); err != nil {
			t.Fatalf("sign %s: %v", org, err)
		}
	}

	accounts, err := svc.GetAccounts(ctx)
	if err != nil {
		t.Fatalf("get accounts: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("accounts len = %d, want 3", len(accounts))
	}
	for i := 1; i < len(accounts); i++ {
		if accounts[i-1].ID >= accounts[i].ID {
			t.Fatalf("accounts not ordered by id: %+v", accounts)
		}
	}
}
