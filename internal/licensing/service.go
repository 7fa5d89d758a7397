package licensing

import (
	"encoding/json"
	"errors"
	"fmt"

	"accord.org/internal/statelog"
)

const (
	assetPrefix     = "asset:"
	licensePrefix   = "license:"
	orderPrefix     = "order:"
	allocReqPrefix  = "allocate-request:"
	returnReqPrefix = "deallocate-request:"
	leasePrefix     = "lease:"
	swidPrefix      = "swid:"
)

func assetKey(assetID string) string              { return assetPrefix + assetID }
func licenseKey(assetID, licenseID string) string { return licensePrefix + assetID + ":" + licenseID }
func orderKey(account, orderID string) string     { return orderPrefix + account + ":" + orderID }
func allocReqKey(orderID string) string           { return allocReqPrefix + orderID }
func returnReqKey(orderID string) string          { return returnReqPrefix + orderID }
func leaseKey(account, orderID string) string     { return leasePrefix + account + ":" + orderID }
func swidKey(account, orderID, licID string) string {
	return swidPrefix + account + ":" + orderID + ":" + licID
}

// Service drives the asset registry, the order state machine and the SWID
// index against the shared ledger.
type Service struct {
	log statelog.Store
}

func NewService(log statelog.Store) *Service {
	return &Service{log: log}
}

func getAsset(tx statelog.ReadTx, assetID string) (Asset, error) {
	var asset Asset
	if err := statelog.GetJSON(tx, assetKey(assetID), &asset); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return Asset{}, fmt.Errorf("asset with id %s %w", assetID, ErrNotFound)
		}
		return Asset{}, err
	}
	return asset, nil
}

func getLicense(tx statelog.ReadTx, assetID, licenseID string) (License, error) {
	var lic License
	if err := statelog.GetJSON(tx, licenseKey(assetID, licenseID), &lic); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return License{}, fmt.Errorf("license %s %w", licenseID, ErrNotFound)
		}
		return License{}, err
	}
	return lic, nil
}

func getOrder(tx statelog.ReadTx, account, orderID string) (Order, error) {
	var order Order
	if err := statelog.GetJSON(tx, orderKey(account, orderID), &order); err != nil {
		if errors.Is(err, statelog.ErrNotFound) {
			return Order{}, fmt.Errorf("order with ID %s and account %s %w", orderID, account, ErrNotFound)
		}
		return Order{}, err
	}
	return order, nil
}

func decodeOrders(kvs []statelog.KV, keep func(Order) bool) ([]Order, error) {
	var orders []Order
	for _, kv := range kvs {
		var order Order
		if err := json.Unmarshal(kv.Value, &order); err != nil {
			return nil, err
		}
		if keep == nil || keep(order) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}
