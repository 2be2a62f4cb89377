package ixf

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

// appliedAction is a record write of the run, archived at the end.
type appliedAction struct {
	rec    model.PeeringRecord
	before *uint
	reason string
}

func (r *run) recordAction(act string, rec model.PeeringRecord, before *uint, reason string) {
	r.actions[act] = append(r.actions[act], appliedAction{rec: rec, before: before, reason: reason})
}

func (r *run) latestVersion(recordID uint) (*uint, error) {
	if recordID == 0 {
		return nil, nil
	}
	v, ok, err := r.st.LatestVersion(recordID)
	if err != nil {
		return nil, fmt.Errorf("latest version of record %d: %w", recordID, err)
	}
	if !ok {
		return nil, nil
	}
	id := v.ID
	return &id, nil
}

// apply writes e to its peering record, requirements first. A
// *ValidationError means the record was left untouched.
func (r *run) apply(e *entry) error {
	reqs, err := r.requirements(e)
	if err != nil {
		return err
	}
	for _, req := range reqs {
		if err := r.apply(req); err != nil {
			return err
		}
	}
	act := r.action(e)
	rec, err := r.record(e)
	if err != nil {
		return err
	}
	before, err := r.latestVersion(rec.ID)
	if err != nil {
		return err
	}
	s := r.settings()

	switch {
	case act == "add" || (act == "modify" && rec.ID == 0):
		if err := r.validateSpeed(e); err != nil {
			return err
		}
		rec.Speed = e.Speed
		if e.IsRSPeer != nil {
			rec.IsRSPeer = *e.IsRSPeer
		}
		rec.Operational = e.Operational
		if !e.net.IPv4Support {
			rec.IPv4 = ""
		}
		if !e.net.IPv6Support {
			rec.IPv6 = ""
		}
		saved, prior, err := r.addRecord(rec)
		if err != nil {
			return err
		}
		before = prior
		e.rec = saved
		rec = saved
	case act == "modify":
		if err := r.validateSpeed(e); err != nil {
			return err
		}
		if s.ModifySpeed && e.Speed != 0 {
			rec.Speed = e.Speed
		}
		if s.ModifyRSPeer && e.IsRSPeer != nil {
			rec.IsRSPeer = *e.IsRSPeer
		}
		rec.Operational = e.Operational
		if verr := r.validateRecord(rec); !verr.empty() {
			return verr
		}
		if err := r.saveRecord(rec, "ixf modify"); err != nil {
			return err
		}
	case act == "delete":
		rec.Status = model.StatusDeleted
		if err := r.saveRecord(rec, "ixf delete"); err != nil {
			return err
		}
	default:
		return nil
	}
	r.recordAction(act, *rec, before, e.Reason)
	return nil
}

// saveRecord writes rec, translating address conflicts into validation
// errors.
func (r *run) saveRecord(rec *model.PeeringRecord, comment string) error {
	_, err := r.st.SaveRecord(rec, comment)
	var conflict *store.AddressConflictError
	if errors.As(err, &conflict) {
		return newValidationError(conflict.Family, "IP already exists")
	}
	if err != nil {
		return fmt.Errorf("save record AS%d: %w", rec.ASN, err)
	}
	return nil
}

// validateRecord checks rec against the LAN prefixes, the speed bounds and
// address uniqueness among active records.
func (r *run) validateRecord(rec *model.PeeringRecord) *ValidationError {
	verr := &ValidationError{}
	if rec.IPv4 != "" && !r.lanOf(rec).ContainsString(rec.IPv4) {
		verr.add("ipv4", "IPv4 address outside of prefix")
	}
	if rec.IPv6 != "" && !r.lanOf(rec).ContainsString(rec.IPv6) {
		verr.add("ipv6", "IPv6 address outside of prefix")
	}
	s := r.settings()
	if rec.Speed != 0 {
		if s.MaxSpeed > 0 && rec.Speed > s.MaxSpeed {
			verr.add("speed", "Maximum speed: "+formatSpeed(s.MaxSpeed))
		}
		if rec.Speed < s.MinSpeed {
			verr.add("speed", "Minimum speed: "+formatSpeed(s.MinSpeed))
		}
	}
	if !verr.empty() {
		return verr
	}
	if !rec.Active() {
		return nil
	}
	for _, fam := range []struct {
		name string
		addr string
		f    store.RecordFilter
	}{
		{"ipv4", rec.IPv4, store.RecordFilter{IPv4: rec.IPv4, Status: model.ActiveStatuses}},
		{"ipv6", rec.IPv6, store.RecordFilter{IPv6: rec.IPv6, Status: model.ActiveStatuses}},
	} {
		if fam.addr == "" {
			continue
		}
		others, err := r.st.ListRecords(fam.f)
		if err != nil {
			verr.add(fam.name, err.Error())
			continue
		}
		for _, o := range others {
			if o.ID != rec.ID {
				verr.add(fam.name, "IP already exists")
				break
			}
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func (r *run) lanOf(rec *model.PeeringRecord) model.ExchangeLAN {
	if rec.ExchangeLANID == r.lan.ID || rec.ExchangeLANID == 0 {
		return r.lan
	}
	lan, ok, err := r.st.GetExchangeLAN(rec.ExchangeLANID)
	if err != nil || !ok {
		return r.lan
	}
	return lan
}

// validateSpeed refuses a zero speed that came from an unparsable feed
// value.
func (r *run) validateSpeed(e *entry) error {
	if e.Speed == 0 && e.Error != "" && strings.Contains(e.Error, "speed") {
		return parseValidationError(e.Error)
	}
	return nil
}

// addRecord creates or revives the record for rec's addresses. Addresses
// held by deleted records of other networks are reclaimed. It also returns
// the version the written record had before.
func (r *run) addRecord(rec *model.PeeringRecord) (*model.PeeringRecord, *uint, error) {
	if rec.IPv4 != "" && !r.lan.ContainsString(rec.IPv4) {
		return nil, nil, newValidationError("ipv4", "IPv4 %s does not match any prefix on this exchange LAN", rec.IPv4)
	}
	if rec.IPv6 != "" && !r.lan.ContainsString(rec.IPv6) {
		return nil, nil, newValidationError("ipv6", "IPv6 %s does not match any prefix on this exchange LAN", rec.IPv6)
	}
	for _, fam := range []struct {
		name, addr string
		f          store.RecordFilter
	}{
		{"ipv4", rec.IPv4, store.RecordFilter{IPv4: rec.IPv4, Status: model.ActiveStatuses}},
		{"ipv6", rec.IPv6, store.RecordFilter{IPv6: rec.IPv6, Status: model.ActiveStatuses}},
	} {
		if fam.addr == "" {
			continue
		}
		others, err := r.st.ListRecords(fam.f)
		if err != nil {
			return nil, nil, fmt.Errorf("list records: %w", err)
		}
		for _, o := range others {
			if o.ExchangeLANID != r.lan.ID {
				return nil, nil, newValidationError(fam.name, "Ip address %s already exists in another lan", fam.addr)
			}
		}
	}

	ex4, err := r.lanRecordWith(store.RecordFilter{ExchangeLANID: r.lan.ID, IPv4: rec.IPv4}, rec.IPv4)
	if err != nil {
		return nil, nil, err
	}
	ex6, err := r.lanRecordWith(store.RecordFilter{ExchangeLANID: r.lan.ID, IPv6: rec.IPv6}, rec.IPv6)
	if err != nil {
		return nil, nil, err
	}
	if ex4 != nil && ex6 != nil && ex4.ID != ex6.ID {
		ex6.IPv6 = ""
		if err := r.saveRecord(ex6, "ixf address moved"); err != nil {
			return nil, nil, err
		}
		ex6 = nil
	}

	var target *model.PeeringRecord
	changed := false
	switch {
	case ex4 != nil:
		target = ex4
	case ex6 != nil:
		target = ex6
	default:
		target = &model.PeeringRecord{ExchangeLANID: r.lan.ID, Status: model.StatusOK}
		changed = true
	}

	claim := func(cur *string, want, family string) error {
		if *cur == want {
			return nil
		}
		*cur = want
		changed = true
		if want == "" {
			return nil
		}
		f := store.RecordFilter{Status: []string{model.StatusDeleted}}
		if family == "ipv4" {
			f.IPv4 = want
		} else {
			f.IPv6 = want
		}
		holders, err := r.st.ListRecords(f)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		for _, h := range holders {
			if h.ID == target.ID || h.ASN == rec.ASN {
				continue
			}
			if family == "ipv4" {
				h.IPv4 = ""
			} else {
				h.IPv6 = ""
			}
			h.Notes = fmt.Sprintf("Ip address %s was claimed by other record", want)
			if err := r.saveRecord(&h, "ixf address claimed"); err != nil {
				return err
			}
		}
		return nil
	}
	if err := claim(&target.IPv4, rec.IPv4, "ipv4"); err != nil {
		return nil, nil, err
	}
	if err := claim(&target.IPv6, rec.IPv6, "ipv6"); err != nil {
		return nil, nil, err
	}
	if target.IsRSPeer != rec.IsRSPeer {
		target.IsRSPeer = rec.IsRSPeer
		changed = true
	}
	if target.Operational != rec.Operational {
		target.Operational = rec.Operational
		changed = true
	}
	if rec.Speed != target.Speed && rec.Speed >= 0 {
		target.Speed = rec.Speed
		changed = true
	}
	if target.ASN != rec.ASN || target.NetworkID != rec.NetworkID {
		target.ASN = rec.ASN
		target.NetworkID = rec.NetworkID
		changed = true
	}
	prior, err := r.latestVersion(target.ID)
	if err != nil {
		return nil, nil, err
	}
	if changed || target.Status == model.StatusDeleted {
		target.Status = model.StatusOK
		if verr := r.validateRecord(target); !verr.empty() {
			return nil, nil, verr
		}
		if err := r.saveRecord(target, "ixf add"); err != nil {
			return nil, nil, err
		}
	}
	return target, prior, nil
}

// lanRecordWith returns the LAN record holding addr in any status,
// preferring active ones.
func (r *run) lanRecordWith(f store.RecordFilter, addr string) (*model.PeeringRecord, error) {
	if addr == "" {
		return nil, nil
	}
	recs, err := r.st.ListRecords(f)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	var found *model.PeeringRecord
	for i := range recs {
		if found == nil || (recs[i].Active() && !found.Active()) {
			found = &recs[i]
		}
	}
	return found, nil
}

// restoreVersion writes a stored snapshot back to its record.
func restoreVersion(st store.Store, v model.RecordVersion, comment string) (model.PeeringRecord, error) {
	var rec model.PeeringRecord
	if err := json.Unmarshal([]byte(v.Data), &rec); err != nil {
		return rec, fmt.Errorf("decode version %d: %w", v.ID, err)
	}
	if _, err := st.SaveRecord(&rec, comment); err != nil {
		return rec, err
	}
	return rec, nil
}
