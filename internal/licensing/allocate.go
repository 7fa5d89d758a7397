package licensing

import (
	"context"
	"errors"
	"fmt"

	"accord.org/internal/statelog"
)

// GetLicensesToAllocateForOrder plans an allocation for an approved order:
// the first amount available license ids in pool insertion order. Pure
// read, no inventory effect.
func (s *Service) GetLicensesToAllocateForOrder(ctx context.Context, account, orderID string) (AllocateRequest, error) {
	var req AllocateRequest
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		order, err := getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusApproved:
		case StatusRenewalApproved:
			return fmt.Errorf("%w: cannot get licenses to allocate for an order that is being renewed", ErrInvalidTransition)
		default:
			return fmt.Errorf("%w: cannot get licenses to allocate for an order that has not been approved", ErrInvalidTransition)
		}

		asset, err := getAsset(tx, order.AssetID)
		if err != nil {
			return err
		}
		var available []string
		for _, id := range asset.LicenseIDs {
			if len(available) == order.Amount {
				break
			}
			lic, err := getLicense(tx, order.AssetID, id)
			if err != nil {
				return err
			}
			if lic.Allocated == nil {
				available = append(available, id)
			}
		}
		if len(available) < order.Amount {
			return fmt.Errorf("%w to complete order %s", ErrInsufficientLicenses, orderID)
		}
		req = AllocateRequest{Account: account, OrderID: orderID, Licenses: available, Expiration: order.Expiration}
		return nil
	})
	return req, err
}

// AllocateLicenses moves the planned licenses from available to the order
// and records the allocate request for delivery. During a renewal the
// order's own licenses may be re-allocated, refreshing their expiration;
// any license held elsewhere fails the whole commit.
func (s *Service) AllocateLicenses(ctx context.Context, req AllocateRequest) (AllocateRequest, error) {
	seen := make(map[string]struct{}, len(req.Licenses))
	for _, id := range req.Licenses {
		if _, dup := seen[id]; dup {
			return AllocateRequest{}, fmt.Errorf("%w: %s", ErrDuplicateLicense, id)
		}
		seen[id] = struct{}{}
	}

	var recorded AllocateRequest
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		order, err := getOrder(tx, req.Account, req.OrderID)
		if err != nil {
			return err
		}
		renewal := order.Status == StatusRenewalApproved
		if order.Status != StatusApproved && !renewal {
			return fmt.Errorf("%w: cannot allocate licenses for an order that has not been approved", ErrInvalidTransition)
		}

		for _, id := range req.Licenses {
			lic, err := getLicense(tx, order.AssetID, id)
			if err != nil {
				return err
			}
			if lic.Allocated != nil {
				held := lic.Allocated
				if !renewal || held.Account != order.Account || held.OrderID != order.ID {
					return fmt.Errorf("license %s %w", id, ErrAllocationConflict)
				}
			}
			lic.Allocated = &Allocation{Account: order.Account, OrderID: order.ID, Expiration: order.Expiration}
			statelog.PutJSON(tx, licenseKey(order.AssetID, id), lic)
		}

		// A renewal may shrink the held set; anything dropped goes back
		// to available.
		for _, id := range order.Licenses {
			if _, kept := seen[id]; kept {
				continue
			}
			lic, err := getLicense(tx, order.AssetID, id)
			if err != nil {
				return err
			}
			lic.Allocated = nil
			statelog.PutJSON(tx, licenseKey(order.AssetID, id), lic)
		}

		order.Status = StatusAllocated
		order.Licenses = req.Licenses
		order.AllocatedDate = tx.Timestamp()
		if renewal {
			order.LatestRenewalDate = tx.Timestamp()
		}
		statelog.PutJSON(tx, orderKey(order.Account, order.ID), order)

		recorded = AllocateRequest{
			Account:    order.Account,
			OrderID:    order.ID,
			Licenses:   req.Licenses,
			Expiration: order.Expiration,
		}
		statelog.PutJSON(tx, allocReqKey(order.ID), recorded)
		return nil
	})
	if err != nil {
		return AllocateRequest{}, err
	}
	return recorded, nil
}

// GetAllocateRequestForOrder replays the recorded allocation for an order.
func (s *Service) GetAllocateRequestForOrder(ctx context.Context, orderID string) (AllocateRequest, error) {
	var req AllocateRequest
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		if err := statelog.GetJSON(tx, allocReqKey(orderID), &req); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("%w for order %s", ErrNoAllocateRequest, orderID)
			}
			return err
		}
		return nil
	})
	return req, err
}

// SendLicenses delivers the allocated licenses to the customer side as a
// lease. The provided request must match the recorded allocation exactly.
func (s *Service) SendLicenses(ctx context.Context, req AllocateRequest) (Lease, error) {
	var lease Lease
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var recorded AllocateRequest
		if err := statelog.GetJSON(tx, allocReqKey(req.OrderID), &recorded); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("%w for order %s", ErrNoAllocateRequest, req.OrderID)
			}
			return err
		}
		if req.Account != recorded.Account || !sameLicenses(req.Licenses, recorded.Licenses) || !req.Expiration.Equal(recorded.Expiration) {
			return ErrSendMismatch
		}
		lease = Lease{
			Account:    recorded.Account,
			OrderID:    recorded.OrderID,
			Licenses:   recorded.Licenses,
			Expiration: recorded.Expiration,
		}
		statelog.PutJSON(tx, leaseKey(lease.Account, lease.OrderID), lease)
		return nil
	})
	if err != nil {
		return Lease{}, err
	}
	return lease, nil
}

// GetAvailableLicensesForOrder returns the license ids leased to the
// account for an order. An order with no lease yet has none.
func (s *Service) GetAvailableLicensesForOrder(ctx context.Context, account, orderID string) ([]string, error) {
	var licenses []string
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		var lease Lease
		if err := statelog.GetJSON(tx, leaseKey(account, orderID), &lease); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return nil
			}
			return err
		}
		licenses = lease.Licenses
		return nil
	})
	return licenses, err
}

// InitiateReturn opens a pending return of leased licenses. Only one may
// be active per order.
func (s *Service) InitiateReturn(ctx context.Context, req ReturnRequest) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		if _, err := tx.Get(returnReqKey(req.OrderID)); err == nil {
			return fmt.Errorf("a request to return licenses for order %s is %w", req.OrderID, ErrReturnActive)
		} else if !errors.Is(err, statelog.ErrNotFound) {
			return err
		}

		var lease Lease
		if err := statelog.GetJSON(tx, leaseKey(req.Account, req.OrderID), &lease); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				lease = Lease{}
			} else {
				return err
			}
		}
		for _, id := range req.Licenses {
			if !contains(lease.Licenses, id) {
				return fmt.Errorf("%w: license %s is not leased by %s", ErrNotLeased, id, req.Account)
			}
		}
		statelog.PutJSON(tx, returnReqKey(req.OrderID), req)
		return nil
	})
	return err
}

// GetInitiatedReturnForOrder returns the pending return for an order.
func (s *Service) GetInitiatedReturnForOrder(ctx context.Context, orderID string) (ReturnRequest, error) {
	var req ReturnRequest
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		if err := statelog.GetJSON(tx, returnReqKey(orderID), &req); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("%w for order %s", ErrNoReturnRequest, orderID)
			}
			return err
		}
		return nil
	})
	return req, err
}

// DeallocateLicensesFromAccount executes the customer side of a pending
// return: the listed licenses leave the lease and the order and go back
// to the asset's available pool.
func (s *Service) DeallocateLicensesFromAccount(ctx context.Context, req ReturnRequest) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var initiated ReturnRequest
		if err := statelog.GetJSON(tx, returnReqKey(req.OrderID), &initiated); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("%w for order %s", ErrNoReturnRequest, req.OrderID)
			}
			return err
		}
		if req.Account != initiated.Account || req.AssetID != initiated.AssetID || !sameLicenses(req.Licenses, initiated.Licenses) {
			return ErrReturnMismatch
		}

		order, err := getOrder(tx, req.Account, req.OrderID)
		if err != nil {
			return err
		}
		returned := make(map[string]struct{}, len(req.Licenses))
		for _, id := range req.Licenses {
			returned[id] = struct{}{}
			lic, err := getLicense(tx, order.AssetID, id)
			if err != nil {
				return err
			}
			lic.Allocated = nil
			statelog.PutJSON(tx, licenseKey(order.AssetID, id), lic)
		}

		kept := order.Licenses[:0]
		for _, id := range order.Licenses {
			if _, gone := returned[id]; !gone {
				kept = append(kept, id)
			}
		}
		order.Licenses = kept
		statelog.PutJSON(tx, orderKey(order.Account, order.ID), order)

		var lease Lease
		if err := statelog.GetJSON(tx, leaseKey(req.Account, req.OrderID), &lease); err != nil {
			return err
		}
		keptLease := lease.Licenses[:0]
		for _, id := range lease.Licenses {
			if _, gone := returned[id]; !gone {
				keptLease = append(keptLease, id)
			}
		}
		lease.Licenses = keptLease
		statelog.PutJSON(tx, leaseKey(req.Account, req.OrderID), lease)
		return nil
	})
	return err
}

// DeallocateLicensesFromSP closes out a pending return on the provider
// side by clearing the marker.
func (s *Service) DeallocateLicensesFromSP(ctx context.Context, orderID string) error {
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		if _, err := tx.Get(returnReqKey(orderID)); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("%w for order %s", ErrNoReturnRequest, orderID)
			}
			return err
		}
		tx.Delete(returnReqKey(orderID))
		return nil
	})
	return err
}

func sameLicenses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
