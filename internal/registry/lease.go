package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// leaseRecord is the value published on the claims topic, keyed by machine id.
// ExpiresAt of zero releases the id.
type leaseRecord struct {
	MachineID uint16 `json:"machine_id"`
	Instance  string `json:"instance"`
	IssuedAt  int64  `json:"issued_at_ms"`
	ExpiresAt int64  `json:"expires_at_ms"`
}

func (r leaseRecord) key() []byte {
	return []byte(strconv.Itoa(int(r.MachineID)))
}

func (r leaseRecord) expires() time.Time {
	return time.UnixMilli(r.ExpiresAt)
}

func decodeLease(value []byte) (leaseRecord, error) {
	var r leaseRecord
	if err := json.Unmarshal(value, &r); err != nil {
		return leaseRecord{}, fmt.Errorf("decode lease: %w", err)
	}
	return r, nil
}

// leaseTable holds the current holder per machine id. Records are applied in
// topic order; a record from another instance issued while the current lease
// is live loses, so concurrent claimants agree on the first one.
type leaseTable map[uint16]leaseRecord

func (t leaseTable) apply(r leaseRecord) {
	if cur, ok := t[r.MachineID]; ok && cur.Instance != r.Instance && r.IssuedAt < cur.ExpiresAt {
		return
	}
	if r.ExpiresAt == 0 {
		delete(t, r.MachineID)
		return
	}
	t[r.MachineID] = r
}

// available reports whether instance may take id at now.
func (t leaseTable) available(id uint16, instance string, now time.Time) bool {
	r, ok := t[id]
	if !ok || r.Instance == instance {
		return true
	}
	return !now.Before(r.expires())
}
