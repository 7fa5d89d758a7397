package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"accord.org/internal/statelog"
)

const (
	aggregateKey  = "governance"
	mouKey        = "mou"
	accountPrefix = "account:"
)

func accountKey(id string) string { return accountPrefix + id }

// Service drives the governance state machines against the shared ledger.
type Service struct {
	log statelog.Store
}

func NewService(log statelog.Store) *Service {
	return &Service{log: log}
}

// Bootstrap creates the governance aggregate and the home organization's
// account, authorized and joined, so the exchange has a quorum of one.
func (s *Service) Bootstrap(ctx context.Context, homeOrg string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var agg aggregate
		if err := statelog.GetJSON(tx, aggregateKey, &agg); err == nil && agg.Bootstrapped {
			return ErrAlreadyBootstrapped
		} else if err != nil && !errors.Is(err, statelog.ErrNotFound) {
			return err
		}
		agg.Bootstrapped = true
		statelog.PutJSON(tx, aggregateKey, agg)
		statelog.PutJSON(tx, accountKey(homeOrg), Account{
			ID:     homeOrg,
			Status: StatusAuthorized,
			Joined: true,
		})
		return nil
	})
	return err
}

// UpdateMOU installs a new MOU version. The first call creates version 1.
func (s *Service) UpdateMOU(ctx context.Context, text string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		mou := MOU{Text: text, Version: 1, Timestamp: tx.Timestamp()}
		var prev MOU
		err := statelog.GetJSON(tx, mouKey, &prev)
		switch {
		case err == nil:
			mou.Version = prev.Version + 1
		case !errors.Is(err, statelog.ErrNotFound):
			return err
		}
		statelog.PutJSON(tx, mouKey, mou)
		return nil
	})
	return err
}

// GetMOU returns the current MOU.
func (s *Service) GetMOU(ctx context.Context) (MOU, error) {
	var mou MOU
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		if err := statelog.GetJSON(tx, mouKey, &mou); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrMOUNotCreated
			}
			return err
		}
		return nil
	})
	return mou, err
}

// GetMOUHistory returns every MOU version, newest first.
func (s *Service) GetMOUHistory(ctx context.Context) ([]MOU, error) {
	var history []MOU
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(mouKey)
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrMOUNotCreated
			}
			return err
		}
		for _, rec := range recs {
			var mou MOU
			if err := json.Unmarshal(rec.Value, &mou); err != nil {
				return err
			}
			history = append(history, mou)
		}
		return nil
	})
	return history, err
}

// SignMOU records that org signed the given MOU version. Signing creates
// the account, unauthorized and not joined, when it does not exist yet.
func (s *Service) SignMOU(ctx context.Context, org string, version int) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var mou MOU
		if err := statelog.GetJSON(tx, mouKey, &mou); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrMOUNotCreated
			}
			return err
		}
		if version != mou.Version {
			return fmt.Errorf("%w: signing MOU version %d, expected version %d", ErrVersionMismatch, version, mou.Version)
		}

		account := Account{ID: org, Status: StatusUnauthorized}
		err := statelog.GetJSON(tx, accountKey(org), &account)
		switch {
		case err == nil:
			if account.MOUVersion == version {
				return fmt.Errorf("%w: %s has already signed MOU version %d", ErrAlreadySigned, org, version)
			}
		case !errors.Is(err, statelog.ErrNotFound):
			return err
		}
		account.MOUVersion = version
		statelog.PutJSON(tx, accountKey(org), account)
		return nil
	})
	return err
}

// Join records the organization's entry into the exchange. Requires an
// authorized account holding a signature on the current MOU version.
func (s *Service) Join(ctx context.Context, org string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		account, err := getAccount(tx, org)
		if err != nil {
			return err
		}
		if account.Joined {
			return fmt.Errorf("%s %w", org, ErrAlreadyJoined)
		}
		if account.Status != StatusAuthorized {
			return fmt.Errorf("cannot join: account %s is %s", org, account.Status)
		}
		var mou MOU
		if err := statelog.GetJSON(tx, mouKey, &mou); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrMOUNotCreated
			}
			return err
		}
		if account.MOUVersion != mou.Version {
			return fmt.Errorf("%w: cannot join until MOU version %d is signed", ErrMOUNotSigned, mou.Version)
		}
		account.Joined = true
		statelog.PutJSON(tx, accountKey(org), account)
		return nil
	})
	return err
}

// GetAccounts lists all accounts ordered by organization id.
func (s *Service) GetAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(accountPrefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			var account Account
			if err := json.Unmarshal(kv.Value, &account); err != nil {
				return err
			}
			accounts = append(accounts, account)
		}
		return nil
	})
	return accounts, err
}

// GetAccount returns one account by organization id.
func (s *Service) GetAccount(ctx context.Context, org string) (Account, error) {
	var account Account
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		var err error
		account, err = getAccount(tx, org)
		return err
	})
	return account, err
}

// GetAccountStatus returns the caller organization's status. Organizations
// without an account yet are unauthorized by definition.
func (s *Service) GetAccountStatus(ctx context.Context, org string) (Status, error) {
	account, err := s.GetAccount(ctx, org)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusUnauthorized, nil
		}
		return "", err
	}
	return account.Status, nil
}

// GetAccountHistory returns all historical states of an account, newest
// first, each stamped with the transaction that produced it.
func (s *Service) GetAccountHistory(ctx context.Context, org string) ([]AccountSnapshot, error) {
	var snapshots []AccountSnapshot
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(accountKey(org))
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("an account with id %s %w", org, ErrNotFound)
			}
			return err
		}
		for _, rec := range recs {
			var account Account
			if err := json.Unmarshal(rec.Value, &account); err != nil {
				return err
			}
			snapshots = append(snapshots, AccountSnapshot{
				TxID:      rec.TxID,
				Timestamp: rec.Timestamp,
				Account:   account,
			})
		}
		return nil
	})
	return snapshots, err
}

func getAccount(tx statelog.ReadTx, org string) (Account, error) {
	var account Account
	if err := statelog.GetJSON(tx, accountKey(org), &account); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return Account{}, fmt.Errorf("an account with id %s %w", org, ErrNotFound)
		}
		return Account{}, err
	}
	return account, nil
}

func getAggregate(tx statelog.ReadTx) (aggregate, error) {
	var agg aggregate
	if err := statelog.GetJSON(tx, aggregateKey, &agg); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return aggregate{}, ErrNotBootstrapped
		}
		return aggregate{}, err
	}
	if !agg.Bootstrapped {
		return aggregate{}, ErrNotBootstrapped
	}
	return agg, nil
}
