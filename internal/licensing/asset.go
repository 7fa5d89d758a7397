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

// AddAsset registers an asset with its initial serialized licenses, all
// available, preserving the order they were supplied in.
func (s *Service) AddAsset(ctx context.Context, name, endDate string, licenses []LicenseInput) (Asset, error) {
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %q", ErrInvalidDate, endDate)
	}
	if err := checkDuplicates(licenses); err != nil {
		return Asset{}, err
	}

	asset := Asset{
		ID:          ids.New(),
		Name:        name,
		EndDate:     end,
		TotalAmount: len(licenses),
	}
	_, err = s.log.Update(ctx, func(tx statelog.Tx) error {
		asset.StartDate = tx.Timestamp()
		for _, lic := range licenses {
			asset.LicenseIDs = append(asset.LicenseIDs, lic.ID)
			statelog.PutJSON(tx, licenseKey(asset.ID, lic.ID), License{ID: lic.ID, Salt: lic.Salt})
		}
		statelog.PutJSON(tx, assetKey(asset.ID), asset)
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// AddLicenses appends serialized licenses to an existing asset's pool.
func (s *Service) AddLicenses(ctx context.Context, assetID string, licenses []LicenseInput) (Asset, error) {
	if err := checkDuplicates(licenses); err != nil {
		return Asset{}, err
	}
	var asset Asset
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		asset, err = getAsset(tx, assetID)
		if err != nil {
			return err
		}
		for _, lic := range licenses {
			if _, err := tx.Get(licenseKey(assetID, lic.ID)); err == nil {
				return fmt.Errorf("license %s %w", lic.ID, ErrLicenseExists)
			} else if !errors.Is(err, statelog.ErrNotFound) {
				return err
			}
			asset.LicenseIDs = append(asset.LicenseIDs, lic.ID)
			statelog.PutJSON(tx, licenseKey(assetID, lic.ID), License{ID: lic.ID, Salt: lic.Salt})
		}
		asset.TotalAmount += len(licenses)
		statelog.PutJSON(tx, assetKey(assetID), asset)
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// RemoveLicenses deletes available licenses from an asset's pool.
// Allocated licenses cannot be removed.
func (s *Service) RemoveLicenses(ctx context.Context, assetID string, licenseIDs []string) (Asset, error) {
	var asset Asset
	_, err := s.log.Update(ctx, func(tx statelog.Tx) error {
		var err error
		asset, err = getAsset(tx, assetID)
		if err != nil {
			return err
		}
		remove := make(map[string]struct{}, len(licenseIDs))
		for _, id := range licenseIDs {
			lic, err := getLicense(tx, assetID, id)
			if err != nil {
				return err
			}
			if lic.Allocated != nil {
				return fmt.Errorf("license %s is allocated to %s", id, lic.Allocated.Account)
			}
			remove[id] = struct{}{}
			tx.Delete(licenseKey(assetID, id))
		}
		kept := asset.LicenseIDs[:0]
		for _, id := range asset.LicenseIDs {
			if _, gone := remove[id]; !gone {
				kept = append(kept, id)
			}
		}
		asset.LicenseIDs = kept
		asset.TotalAmount -= len(remove)
		statelog.PutJSON(tx, assetKey(assetID), asset)
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// UpdateEndDate changes the asset's end date. No inventory effect.
func (s *Service) UpdateEndDate(ctx context.Context, assetID, endDate string) error {
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, endDate)
	}
	_, err = s.log.Update(ctx, func(tx statelog.Tx) error {
		asset, err := getAsset(tx, assetID)
		if err != nil {
			return err
		}
		asset.EndDate = end
		statelog.PutJSON(tx, assetKey(assetID), asset)
		return nil
	})
	return err
}

// GetAssets lists all assets as restricted views, ordered by id.
func (s *Service) GetAssets(ctx context.Context) ([]AssetView, error) {
	var views []AssetView
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		kvs, err := tx.Range(assetPrefix)
		if err != nil {
			return err
		}
		for _, kv := range kvs {
			var asset Asset
			if err := json.Unmarshal(kv.Value, &asset); err != nil {
				return err
			}
			views = append(views, restrictedView(asset))
		}
		return nil
	})
	return views, err
}

// GetAsset returns one asset. The detail flag adds the inventory fields
// and is granted by the caller's asset detail privilege.
func (s *Service) GetAsset(ctx context.Context, assetID string, detail bool) (AssetView, error) {
	var view AssetView
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		asset, err := getAsset(tx, assetID)
		if err != nil {
			return err
		}
		if !detail {
			view = restrictedView(asset)
			return nil
		}
		view, err = detailView(tx, asset)
		return err
	})
	return view, err
}

// GetAssetHistory returns all historical asset states, newest first.
func (s *Service) GetAssetHistory(ctx context.Context, assetID string) ([]AssetSnapshot, error) {
	var snapshots []AssetSnapshot
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(assetKey(assetID))
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("asset with id %s %w", assetID, ErrNotFound)
			}
			return err
		}
		for _, rec := range recs {
			var asset Asset
			if err := json.Unmarshal(rec.Value, &asset); err != nil {
				return err
			}
			snapshots = append(snapshots, AssetSnapshot{TxID: rec.TxID, Timestamp: rec.Timestamp, Asset: asset})
		}
		return nil
	})
	return snapshots, err
}

// GetLicenseTxHistory returns all historical states of one license,
// newest first, tracking its allocation churn.
func (s *Service) GetLicenseTxHistory(ctx context.Context, assetID, licenseID string) ([]LicenseSnapshot, error) {
	var snapshots []LicenseSnapshot
	err := s.log.View(ctx, func(tx statelog.ReadTx) error {
		recs, err := tx.History(licenseKey(assetID, licenseID))
		if err != nil {
			if errors.Is(err, statelog.ErrNotFound) {
				return fmt.Errorf("license %s %w for asset %s", licenseID, ErrNotFound, assetID)
			}
			return err
		}
		for _, rec := range recs {
			var lic License
			if err := json.Unmarshal(rec.Value, &lic); err != nil {
				return err
			}
			snapshots = append(snapshots, LicenseSnapshot{TxID: rec.TxID, Timestamp: rec.Timestamp, License: lic})
		}
		return nil
	})
	return snapshots, err
}

func checkDuplicates(licenses []LicenseInput) error {
	seen := make(map[string]struct{}, len(licenses))
	for _, lic := range licenses {
		if _, dup := seen[lic.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateLicense, lic.ID)
		}
		seen[lic.ID] = struct{}{}
	}
	return nil
}

func restrictedView(asset Asset) AssetView {
	return AssetView{
		ID:        asset.ID,
		Name:      asset.Name,
		StartDate: asset.StartDate,
		EndDate:   asset.EndDate,
	}
}

func detailView(tx statelog.ReadTx, asset Asset) (AssetView, error) {
	view := restrictedView(asset)
	view.TotalAmount = asset.TotalAmount
	view.AllocatedLicenses = map[string]map[string][]AllocatedLicense{}
	for _, id := range asset.LicenseIDs {
		lic, err := getLicense(tx, asset.ID, id)
		if err != nil {
			return AssetView{}, err
		}
		if lic.Allocated == nil {
			view.AvailableLicenses = append(view.AvailableLicenses, id)
			continue
		}
		byOrder, ok := view.AllocatedLicenses[lic.Allocated.Account]
		if !ok {
			byOrder = map[string][]AllocatedLicense{}
			view.AllocatedLicenses[lic.Allocated.Account] = byOrder
		}
		byOrder[lic.Allocated.OrderID] = append(byOrder[lic.Allocated.OrderID], AllocatedLicense{
			ID:         id,
			Expiration: lic.Allocated.Expiration,
		})
	}
	view.NumAvailable = len(view.AvailableLicenses)
	return view, nil
}
