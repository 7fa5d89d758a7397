package statelog

import "encoding/json"

// GetJSON reads key and unmarshals the current value into out.
func GetJSON(tx ReadTx, key string, out any) error {
	raw, err := tx.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// PutJSON stages v under key. Marshal failures are programming errors on
// internal types, so they surface as a panic rather than a ledger error.
func PutJSON(tx Tx, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("statelog: marshal " + key + ": " + err.Error())
	}
	tx.Put(key, raw)
}
