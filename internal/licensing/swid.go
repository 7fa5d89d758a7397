package licensing

import (
	"context"
	"errors"
	"fmt"

	"accord.org/internal/statelog"
)

// ReportSWID upserts the software identification tag for one leased
// license. The license must currently be leased to the (account, order)
// pair the tag names.
func (s *Service) ReportSWID(ctx context.Context, rec SWID) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var lease Lease
		if err := statelog.GetJSON(tx, leaseKey(rec.Account, rec.OrderID), &lease); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return ErrLicenseNotFound
			}
			return err
		}
		if !contains(lease.Licenses, rec.LicenseID) {
			return ErrLicenseNotFound
		}
		statelog.PutJSON(tx, swidKey(rec.Account, rec.OrderID, rec.LicenseID), rec)
		return nil
	})
	return err
}

// GetSWID returns the tag stored for one leased license.
func (s *Service) GetSWID(ctx context.Context, account, orderID, licenseID string) (SWID, error) {
	var rec SWID
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		return getSWID(tx, account, orderID, licenseID, &rec)
	})
	return rec, err
}

// DeleteSWID removes the tag stored for one leased license.
func (s *Service) DeleteSWID(ctx context.Context, account, orderID, licenseID string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var rec SWID
		if err := getSWID(tx, account, orderID, licenseID, &rec); err != nil {
			return err
		}
		tx.Delete(swidKey(account, orderID, licenseID))
		return nil
	})
	return err
}

// GetLicensesWithSWIDsForOrder lists the license ids that carry a tag for
// the given (account, order) pair, in id order.
func (s *Service) GetLicensesWithSWIDsForOrder(ctx context.Context, account, orderID string) ([]string, error) {
	prefix := swidPrefix + account + ":" + orderID + ":"
	var licenses []string
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(prefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			licenses = append(licenses, kv.Key[len(prefix):])
		}
		return nil
	})
	return licenses, err
}

func getSWID(tx statelog.ReadTx, account, orderID, licenseID string, out *SWID) error {
	if err := statelog.GetJSON(tx, swidKey(account, orderID, licenseID), out); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return fmt.Errorf("SWID for license %s in order %s %w", licenseID, orderID, ErrNotFound)
		}
		return err
	}
	return nil
}
