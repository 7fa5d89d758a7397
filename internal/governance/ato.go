package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"accord.org/internal/statelog"
)

const atoPrefix = "ato:"

func atoKey(org string) string { return atoPrefix + org }

// CreateATO writes version 1 of the organization's Authority to Operate.
func (s *Service) CreateATO(ctx context.Context, org, memo, artifacts string) (ATO, error) {
	var ato ATO
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		if _, err := tx.Get(atoKey(org)); err == nil {
			return fmt.Errorf("%w for account %s", ErrATOExists, org)
		} else if !errors.Is(err, statelog.ErrNotFound) {
			return err
		}
		ato = ATO{
			ID:          tx.TxID(),
			AccountID:   org,
			Memo:        memo,
			Artifacts:   artifacts,
			Version:     1,
			Created:     tx.Timestamp(),
			LastUpdated: tx.Timestamp(),
			Feedback:    []Feedback{},
		}
		statelog.PutJSON(tx, atoKey(org), ato)
		return nil
	})
	return ato, err
}

// UpdateATO replaces memo/artifacts and bumps the version. Feedback on
// prior versions is retained.
func (s *Service) UpdateATO(ctx context.Context, org, memo, artifacts string) (ATO, error) {
	var ato ATO
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		ato, err = getATO(tx, org)
		if err != nil {
			return err
		}
		ato.Memo = memo
		ato.Artifacts = artifacts
		ato.Version++
		ato.LastUpdated = tx.Timestamp()
		statelog.PutJSON(tx, atoKey(org), ato)
		return nil
	})
	return ato, err
}

// SubmitFeedback appends a comment from the author organization onto the
// target's ATO. The referenced version must be the current one so comments
// cannot silently land on stale artifacts.
func (s *Service) SubmitFeedback(ctx context.Context, author, target string, atoVersion int, comments string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		ato, err := getATO(tx, target)
		if err != nil {
			return err
		}
		if atoVersion != ato.Version {
			return fmt.Errorf("%w: got %d, current is %d", ErrATOVersion, atoVersion, ato.Version)
		}
		ato.Feedback = append(ato.Feedback, Feedback{
			AccountID:  author,
			ATOVersion: atoVersion,
			Comments:   comments,
		})
		statelog.PutJSON(tx, atoKey(target), ato)
		return nil
	})
	return err
}

// GetATO returns the organization's current ATO.
func (s *Service) GetATO(ctx context.Context, org string) (ATO, error) {
	var ato ATO
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		var err error
		ato, err = getATO(tx, org)
		return err
	})
	return ato, err
}

// GetATOHistory returns all historical ATO states, newest first.
func (s *Service) GetATOHistory(ctx context.Context, org string) ([]ATOSnapshot, error) {
	var snapshots []ATOSnapshot
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(atoKey(org))
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("ATO for account %s has not been created: %w", org, ErrNotFound)
			}
			return err
		}
		for _, rec := range recs {
			var ato ATO
			if err := json.Unmarshal(rec.Value, &ato); err != nil {
				return err
			}
			snapshots = append(snapshots, ATOSnapshot{TxID: rec.TxID, Timestamp: rec.Timestamp, ATO: ato})
		}
		return nil
	})
	return snapshots, err
}

func getATO(tx statelog.ReadTx, org string) (ATO, error) {
	var ato ATO
	if err := statelog.GetJSON(tx, atoKey(org), &ato); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return ATO{}, fmt.Errorf("ATO for account %s has not been created: %w", org, ErrNotFound)
		}
		return ATO{}, err
	}
	return ato, nil
}
