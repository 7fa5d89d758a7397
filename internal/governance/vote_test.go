package governance

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// seedMembers signs and joins the given orgs so they are vote eligible.
func seedMembers(t *testing.T, svc *Service, orgs ...string) {
	t.Helper()
	ctx := context.Background()
	if err := svc.UpdateMOU(ctx, "mou v1"); err != nil {
		t.Fatalf("update mou: %v", err)
	}
	for _, org := range orgs {
		if err := svc.SignMOU(ctx, org, 1); err != nil {
			t.Fatalf("sign %s: %v", org, err)
		}
		authorize(t, svc, org)
		if err := svc.Join(ctx, org); err != nil {
			t.Fatalf("join %s: %v", org, err)
		}
	}
}

func TestInitiateVoteGuards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedMembers(t, svc, "Org2", "Org3")

	if _, err := svc.InitiateVote(ctx, homeOrg, homeOrg, StatusUnauthorized, "self"); !errors.Is(err, ErrSelfVote) {
		t.Fatalf("self vote: got %v, want ErrSelfVote", err)
	}
	if _, err := svc.InitiateVote(ctx, homeOrg, "Stranger", StatusAuthorized, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("vote on unknown account: got %v, want ErrNotFound", err)
	}

	vote, err := svc.InitiateVote(ctx, homeOrg, "Org2", StatusUnauthorized, "incident")
	if err != nil {
		t.Fatalf("initiate vote: %v", err)
	}
	if vote.Threshold != ThresholdMajority || vote.Result != VoteOngoing {
		t.Fatalf("vote = %+v, want majority threshold and ongoing result", vote)
	}
	if len(vote.Eligible) != 3 {
		t.Fatalf("eligible = %v, want the three joined orgs", vote.Eligible)
	}

	_, err = svc.InitiateVote(ctx, "Org3", "Org2", StatusUnauthorized, "again")
	if !errors.Is(err, ErrOngoingVoteExists) {
		t.Fatalf("second ballot: got %v, want ErrOngoingVoteExists", err)
	}
	if !strings.Contains(err.Error(), "there is already an ongoing vote") {
		t.Fatalf("second ballot message: %v", err)
	}
}

func TestCastVoteGuards(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedMembers(t, svc, "Org2", "Org3")

	if err := svc.CastVote(ctx, homeOrg, true); !errors.Is(err, ErrNoOngoingVote) {
		t.Fatalf("vote without ballot: got %v, want ErrNoOngoingVote", err)
	}

	if _, err := svc.InitiateVote(ctx, homeOrg, "Org2", StatusUnauthorized, "incident"); err != nil {
		t.Fatalf("initiate vote: %v", err)
	}

	if err := svc.CastVote(ctx, "Stranger", true); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("ineligible voter: got %v, want ErrNotEligible", err)
	}
	if err := svc.CastVote(ctx, homeOrg, true); err != nil {
		t.Fatalf("cast vote: %v", err)
	}
	if err := svc.CastVote(ctx, homeOrg, false); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("double vote: got %v, want ErrAlreadyVoted", err)
	}

	vote, err := svc.GetOngoingVote(ctx)
	if err != nil {
		t.Fatalf("get ongoing vote: %v", err)
	}
	if len(vote.Voters) != 1 || vote.Voters[0] != homeOrg {
		t.Fatalf("voters = %v, want [%s]", vote.Voters, homeOrg)
	}
	if approve, ok := vote.SubmittedVotes[homeOrg]; !ok || !approve {
		t.Fatalf("submitted votes = %v, want yes from %s", vote.SubmittedVotes, homeOrg)
	}
}

func TestCertifyVotePasses(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedMembers(t, svc, "Org2", "Org3")

	if _, err := svc.CertifyOngoingVote(ctx); !errors.Is(err, ErrNoOngoingVote) {
		t.Fatalf("certify without ballot: got %v, want ErrNoOngoingVote", err)
	}

	if _, err := svc.InitiateVote(ctx, homeOrg, "Org2", StatusUnauthorized, "incident"); err != nil {
		t.Fatalf("initiate vote: %v", err)
	}
	// Two yes of three eligible is a strict majority.
	for _, org := range []string{homeOrg, "Org3"} {
		if err := svc.CastVote(ctx, org, true); err != nil {
			t.Fatalf("cast vote %s: %v", org, err)
		}
	}
	if err := svc.CastVote(ctx, "Org2", false); err != nil {
		t.Fatalf("cast vote Org2: %v", err)
	}

	closed, err := svc.CertifyOngoingVote(ctx)
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if closed.Result != VotePassed {
		t.Fatalf("result = %s, want PASSED", closed.Result)
	}

	account, err := svc.GetAccount(ctx, "Org2")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Status != StatusUnauthorized {
		t.Fatalf("status = %s, want UNAUTHORIZED after passed vote", account.Status)
	}

	if _, err := svc.GetOngoingVote(ctx); !errors.Is(err, ErrNoOngoingVote) {
		t.Fatalf("ballot should be closed: got %v", err)
	}
}

func TestCertifyVoteFailsWithoutMajority(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedMembers(t, svc, "Org2", "Org3", "Org4")

	if _, err := svc.InitiateVote(ctx, homeOrg, "Org2", StatusUnauthorized, "incident"); err != nil {
		t.Fatalf("initiate vote: %v", err)
	}
	// Two yes of four eligible is exactly half, not a majority.
	for _, org := range []string{homeOrg, "Org3"} {
		if err := svc.CastVote(ctx, org, true); err != nil {
			t.Fatalf("cast vote %s: %v", org, err)
		}
	}

	closed, err := svc.CertifyOngoingVote(ctx)
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if closed.Result != VoteFailed {
		t.Fatalf("result = %s, want FAILED", closed.Result)
	}

	account, err := svc.GetAccount(ctx, "Org2")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Status != StatusAuthorized {
		t.Fatalf("status = %s, failed vote must not change it", account.Status)
	}
}

func TestVoteHistoryByTarget(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedMembers(t, svc, "Org2", "Org3")

	runVote := func(target string, change Status) {
		t.Helper()
		vote, err := svc.InitiateVote(ctx, homeOrg, target, change, "cycle")
		if err != nil {
			t.Fatalf("initiate vote on %s: %v", target, err)
		}
		for _, voter := range vote.Eligible {
			if err := svc.CastVote(ctx, voter, true); err != nil {
				t.Fatalf("cast vote: %v", err)
			}
		}
		if _, err := svc.CertifyOngoingVote(ctx); err != nil {
			t.Fatalf("certify: %v", err)
		}
	}

	runVote("Org2", StatusUnauthorized)
	runVote("Org3", StatusUnauthorized)
	runVote("Org2", StatusAuthorized)

	votes, err := svc.GetVoteHistory(ctx, "Org2")
	if err != nil {
		t.Fatalf("vote history: %v", err)
	}
	// seedMembers ran one authorization vote per org before these.
	if len(votes) != 3 {
		t.Fatalf("history len = %d, want 3", len(votes))
	}
	last := votes[len(votes)-1]
	if last.StatusChange != StatusAuthorized || last.Result != VotePassed {
		t.Fatalf("latest closed vote = %+v", last)
	}
	for _, vote := range votes {
		if vote.TargetAccountID != "Org2" {
			t.Fatalf("vote %s targets %s, want Org2", vote.ID, vote.TargetAccountID)
		}
	}
}
