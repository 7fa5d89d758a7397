package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"accord.org/internal/ids"
	"accord.org/internal/statelog"
)

// GetQuote opens an order in QUOTE_REQUESTED when orderID is empty, or
// starts a renewal cycle on an allocated order when it is not.
func (s *Service) GetQuote(ctx context.Context, account, assetID string, amount, duration int, orderID string) (Order, error) {
	var order Order
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		if _, err := tx.Get(assetKey(assetID)); err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("asset %s %w", assetID, ErrNotFound)
			}
			return err
		}

		if orderID == "" {
			order = Order{
				ID:       ids.New(),
				Account:  account,
				AssetID:  assetID,
				Amount:   amount,
				Duration: duration,
				Status:   StatusQuoteRequested,
			}
			statelog.PutJSON(tx, orderKey(account, order.ID), order)
			return nil
		}

		var err error
		order, err = getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusAllocated {
			return fmt.Errorf("%w: only an allocated order can request a renewal quote", ErrInvalidTransition)
		}
		order.Status = StatusRenewalQuoteRequested
		order.Amount = amount
		order.Duration = duration
		statelog.PutJSON(tx, orderKey(account, order.ID), order)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// SendQuote answers a pending quote request with a price.
func (s *Service) SendQuote(ctx context.Context, account, orderID, price string) (Order, error) {
	var order Order
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		order, err = getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusQuoteRequested:
			order.Status = StatusQuoteReceived
		case StatusRenewalQuoteRequested:
			order.Status = StatusRenewalQuoteReceived
		default:
			return fmt.Errorf("%w: a quote request for order %s does not exist", ErrInvalidTransition, orderID)
		}
		order.Price = price
		statelog.PutJSON(tx, orderKey(account, order.ID), order)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// InitiateOrder commits the customer to the quoted price. Resubmitted
// amount and duration values overwrite the order's stored ones.
func (s *Service) InitiateOrder(ctx context.Context, account, orderID string, amount, duration int) (Order, error) {
	var order Order
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		order, err = getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusQuoteReceived:
			order.Status = StatusInitiated
		case StatusRenewalQuoteReceived:
			order.Status = StatusRenewalInitiated
		default:
			return fmt.Errorf("%w: order %s has not received a quote", ErrInvalidTransition, orderID)
		}
		if amount > 0 {
			order.Amount = amount
		}
		if duration > 0 {
			order.Duration = duration
		}
		order.InitiationDate = tx.Timestamp()
		statelog.PutJSON(tx, orderKey(account, order.ID), order)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// ApproveOrder clears an initiated order for allocation and computes the
// expiration from the approval time plus the duration in years.
func (s *Service) ApproveOrder(ctx context.Context, account, orderID string) (Order, error) {
	var order Order
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		order, err = getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusInitiated:
			order.Status = StatusApproved
		case StatusRenewalInitiated:
			order.Status = StatusRenewalApproved
		default:
			return fmt.Errorf("%w: order %s is not up for approval", ErrInvalidTransition, orderID)
		}
		order.ApprovalDate = tx.Timestamp()
		order.Expiration = order.ApprovalDate.AddDate(order.Duration, 0, 0)
		statelog.PutJSON(tx, orderKey(account, order.ID), order)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// DenyOrder rejects an initiated order. The order stays queryable.
func (s *Service) DenyOrder(ctx context.Context, account, orderID string) (Order, error) {
	var order Order
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		order, err = getOrder(tx, account, orderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusInitiated:
			order.Status = StatusDenied
		case StatusRenewalInitiated:
			order.Status = StatusRenewalDenied
		default:
			return fmt.Errorf("%w: order %s is not up for approval", ErrInvalidTransition, orderID)
		}
		statelog.PutJSON(tx, orderKey(account, order.ID), order)
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder returns one order for its owning account.
func (s *Service) GetOrder(ctx context.Context, account, orderID string) (Order, error) {
	var order Order
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		var err error
		order, err = getOrder(tx, account, orderID)
		return err
	})
	return order, err
}

// GetOrdersByAccount lists an account's orders ordered by order id.
func (s *Service) GetOrdersByAccount(ctx context.Context, account string) ([]Order, error) {
	var orders []Order
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(orderPrefix + account + ":")
		if err != nil {
			return err
		}
		orders, err = decodeOrders(kvs, nil)
		return err
	})
	return orders, err
}

// GetOrdersByAccountAndAsset lists an account's orders for one asset.
func (s *Service) GetOrdersByAccountAndAsset(ctx context.Context, account, assetID string) ([]Order, error) {
	var orders []Order
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(orderPrefix + account + ":")
		if err != nil {
			return err
		}
		orders, err = decodeOrders(kvs, func(o Order) bool { return o.AssetID == assetID })
		return err
	})
	return orders, err
}

// GetOrdersByAsset lists every account's orders for one asset.
func (s *Service) GetOrdersByAsset(ctx context.Context, assetID string) ([]Order, error) {
	var orders []Order
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(orderPrefix)
		if err != nil {
			return err
		}
		orders, err = decodeOrders(kvs, func(o Order) bool { return o.AssetID == assetID })
		return err
	})
	return orders, err
}

// GetExpiredOrders lists orders whose expiration has passed. An empty
// account scans all accounts; the home organization is granted that.
func (s *Service) GetExpiredOrders(ctx context.Context, account string, now time.Time) ([]Order, error) {
	prefix := orderPrefix
	if account != "" {
		prefix += account + ":"
	}
	var orders []Order
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(prefix)
		if err != nil {
			return err
		}
		orders, err = decodeOrders(kvs, func(o Order) bool {
			return !o.Expiration.IsZero() && o.Expiration.Before(now)
		})
		return err
	})
	return orders, err
}

// GetOrderHistory returns all historical order states, newest first.
func (s *Service) GetOrderHistory(ctx context.Context, account, orderID string) ([]OrderSnapshot, error) {
	var snapshots []OrderSnapshot
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(orderKey(account, orderID))
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("order with ID %s and account %s %w", orderID, account, ErrNotFound)
			}
			return err
		}
		for _, rec := range recs {
			var order Order
			if err := json.Unmarshal(rec.Value, &order); err != nil {
				return err
			}
			snapshots = append(snapshots, OrderSnapshot{TxID: rec.TxID, Timestamp: rec.Timestamp, Order: order})
		}
		return nil
	})
	return snapshots, err
}
