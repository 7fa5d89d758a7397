package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"accord.org/internal/ids"
	"accord.org/internal/statelog"
)

const votePrefix = "vote:"

func voteKey(id string) string { return votePrefix + id }

// InitiateVote opens a ballot to change the target organization's
// authorization status. Only one ballot may be ongoing at a time; the
// eligible set is frozen here as the joined organizations plus the
// initiator.
func (s *Service) InitiateVote(ctx context.Context, initiator, target string, statusChange Status, reason string) (Vote, error) {
	var vote Vote
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		agg, err := getAggregate(tx)
		if err != nil {
			return err
		}
		if agg.OngoingVote != nil {
			return ErrOngoingVoteExists
		}
		if initiator == target {
			return ErrSelfVote
		}
		if _, err := getAccount(tx, target); err != nil {
			return err
		}

		eligible := map[string]struct{}{initiator: {}}
		kvs, err := tx.Range(accountPrefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			var account Account
			if err := json.Unmarshal(kv.Value, &account); err != nil {
				return err
			}
			if account.Joined {
				eligible[account.ID] = struct{}{}
			}
		}

		vote = Vote{
			ID:                  ids.New(),
			InitiatingAccountID: initiator,
			TargetAccountID:     target,
			StatusChange:        statusChange,
			Reason:              reason,
			Threshold:           ThresholdMajority,
			Eligible:            sortedKeys(eligible),
			Voters:              []string{},
			SubmittedVotes:      map[string]bool{},
			Result:              VoteOngoing,
		}
		agg.OngoingVote = &vote
		statelog.PutJSON(tx, aggregateKey, agg)
		return nil
	})
	return vote, err
}

// CastVote records one organization's ballot on the ongoing vote.
func (s *Service) CastVote(ctx context.Context, org string, approve bool) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		agg, err := getAggregate(tx)
		if err != nil {
			return err
		}
		vote := agg.OngoingVote
		if vote == nil {
			return ErrNoOngoingVote
		}
		if !contains(vote.Eligible, org) {
			return fmt.Errorf("%s is %w", org, ErrNotEligible)
		}
		if _, voted := vote.SubmittedVotes[org]; voted {
			return fmt.Errorf("%s has %w", org, ErrAlreadyVoted)
		}
		vote.SubmittedVotes[org] = approve
		vote.Voters = append(vote.Voters, org)
		statelog.PutJSON(tx, aggregateKey, agg)
		return nil
	})
	return err
}

// CertifyOngoingVote tallies the ongoing vote against the majority
// threshold, applies the status change to the target account when it
// passed, and moves the closed vote into history.
func (s *Service) CertifyOngoingVote(ctx context.Context) (Vote, error) {
	var closed Vote
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		agg, err := getAggregate(tx)
		if err != nil {
			return err
		}
		if agg.OngoingVote == nil {
			return ErrNoOngoingVote
		}
		closed = *agg.OngoingVote

		yes := 0
		for _, approve := range closed.SubmittedVotes {
			if approve {
				yes++
			}
		}
		// MAJORITY: strictly more than half of the eligible set.
		if yes*2 > len(closed.Eligible) {
			closed.Result = VotePassed
			account, err := getAccount(tx, closed.TargetAccountID)
			if err != nil {
				return err
			}
			account.Status = closed.StatusChange
			statelog.PutJSON(tx, accountKey(account.ID), account)
		} else {
			closed.Result = VoteFailed
		}

		statelog.PutJSON(tx, voteKey(closed.ID), closed)
		agg.OngoingVote = nil
		statelog.PutJSON(tx, aggregateKey, agg)
		return nil
	})
	return closed, err
}

// GetOngoingVote returns the open ballot, or ErrNoOngoingVote.
func (s *Service) GetOngoingVote(ctx context.Context) (Vote, error) {
	var vote Vote
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		agg, err := getAggregate(tx)
		if err != nil {
			return err
		}
		if agg.OngoingVote == nil {
			return ErrNoOngoingVote
		}
		vote = *agg.OngoingVote
		return nil
	})
	return vote, err
}

// GetVoteHistory returns the closed votes targeting the given account, in
// the order they were initiated.
func (s *Service) GetVoteHistory(ctx context.Context, target string) ([]Vote, error) {
	var votes []Vote
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(votePrefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			var vote Vote
			if err := json.Unmarshal(kv.Value, &vote); err != nil {
				return err
			}
			if vote.TargetAccountID == target {
				votes = append(votes, vote)
			}
		}
		return nil
	})
	return votes, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
