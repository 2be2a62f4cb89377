package ixf

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
	"ixf-sync/pkg/watch"
)

// archive writes the import log of the run's record writes and streams
// them to watchers.
func (r *run) archive() error {
	if !r.opts.Save || len(r.actions) == 0 {
		return nil
	}
	log := model.ImportLog{ExchangeLANID: r.lan.ID, RunID: r.id}
	var events []watch.Event
	for _, act := range []string{"delete", "modify", "add"} {
		for _, a := range r.actions[act] {
			after, err := r.versionAfter(a.rec.ID, a.before)
			if err != nil {
				return err
			}
			if after == 0 {
				continue
			}
			log.Entries = append(log.Entries, model.ImportLogEntry{
				RecordID:      a.rec.ID,
				VersionBefore: a.before,
				VersionAfter:  after,
				Action:        act,
				Reason:        a.reason,
			})
			events = append(events, watch.Event{
				Source:        "ixf",
				Action:        act,
				ExchangeLANID: r.lan.ID,
				RecordID:      a.rec.ID,
				ASN:           a.rec.ASN,
				VersionBefore: a.before,
				VersionAfter:  after,
				Reason:        a.reason,
				Time:          r.now(),
			})
		}
	}
	if len(log.Entries) == 0 {
		return nil
	}
	if err := r.st.CreateImportLog(&log); err != nil {
		return fmt.Errorf("create import log: %w", err)
	}
	r.importLog = log.ID
	for _, ev := range events {
		r.imp.fanout().Push(ev)
	}
	return nil
}

// versionAfter is the first version written after before, else the
// latest one.
func (r *run) versionAfter(recordID uint, before *uint) (uint, error) {
	versions, err := r.st.ListVersions(recordID)
	if err != nil {
		return 0, fmt.Errorf("list versions of record %d: %w", recordID, err)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	if before == nil {
		return versions[len(versions)-1].ID, nil
	}
	var after uint
	for _, v := range versions {
		if v.ID > *before && (after == 0 || v.ID < after) {
			after = v.ID
		}
	}
	if after == 0 {
		return versions[0].ID, nil
	}
	return after, nil
}

// Rollback outcome of an import log entry.
const (
	RollbackDone     = 0  // can be reverted
	RollbackReverted = -1 // already back at the version before
	RollbackChanged  = 1  // the record changed since
	RollbackConflict = 2  // the addresses are held by another record now
)

// RollbackEntry reports what happened to one import log entry.
type RollbackEntry struct {
	EntryID  uint   `json:"entryId"`
	RecordID uint   `json:"recordId"`
	Action   string `json:"action"`
	Status   int    `json:"status"`
	Reverted bool   `json:"reverted"`
	Error    string `json:"error,omitempty"`
}

// Rollback reverts the record writes of an import log, newest first.
// Entries whose record changed since are left alone.
func (imp *Importer) Rollback(ctx context.Context, actor string, logID uint) ([]RollbackEntry, error) {
	_, span := tracer.Start(ctx, "ixf.Rollback")
	defer span.End()

	var results []RollbackEntry
	var events []watch.Event
	var lanID uint
	err := imp.Store.Transaction(func(tx store.Store) error {
		results, events = nil, nil
		log, ok, err := tx.GetImportLog(logID)
		if err != nil {
			return fmt.Errorf("get import log %d: %w", logID, err)
		}
		if !ok {
			return fmt.Errorf("import log %d: %w", logID, store.ErrNotFound)
		}
		lanID = log.ExchangeLANID
		entries := append([]model.ImportLogEntry(nil), log.Entries...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })

		for _, entry := range entries {
			res := RollbackEntry{EntryID: entry.ID, RecordID: entry.RecordID, Action: entry.Action}
			status, rec, err := rollbackStatus(tx, entry)
			if err != nil {
				return err
			}
			res.Status = status
			if status == RollbackDone {
				if err := imp.revert(tx, entry, entries, rec); err != nil {
					if !errors.Is(err, store.ErrAddressInUse) {
						return err
					}
					res.Error = err.Error()
				} else {
					res.Reverted = true
					events = append(events, watch.Event{
						Source:        "rollback",
						Action:        entry.Action,
						ExchangeLANID: log.ExchangeLANID,
						RecordID:      entry.RecordID,
						ASN:           rec.ASN,
						VersionBefore: entry.VersionBefore,
						VersionAfter:  entry.VersionAfter,
						Time:          imp.now(),
					})
				}
			}
			results = append(results, res)
		}
		return tx.AppendAudit(model.AuditEntry{
			Actor:     actor,
			Action:    "rollback",
			Target:    fmt.Sprintf("import-log/%d", logID),
			Detail:    fmt.Sprintf("exchange lan %d, %d entries", lanID, len(entries)),
			Timestamp: imp.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		imp.fanout().Push(ev)
	}
	imp.logger().Info("import rolled back", "log", logID, "lan", lanID, "entries", len(results))
	return results, nil
}

func rollbackStatus(st store.Store, entry model.ImportLogEntry) (int, model.PeeringRecord, error) {
	rec, ok, err := st.GetRecord(entry.RecordID)
	if err != nil {
		return 0, rec, fmt.Errorf("get record %d: %w", entry.RecordID, err)
	}
	if !ok {
		return RollbackChanged, rec, nil
	}
	latest, ok, err := st.LatestVersion(rec.ID)
	if err != nil {
		return 0, rec, fmt.Errorf("latest version of record %d: %w", rec.ID, err)
	}
	if !ok {
		return RollbackChanged, rec, nil
	}
	switch {
	case latest.ID == entry.VersionAfter:
		if rec.Status == model.StatusDeleted {
			held, err := addressesHeld(st, rec)
			if err != nil {
				return 0, rec, err
			}
			if held {
				return RollbackConflict, rec, nil
			}
		}
		return RollbackDone, rec, nil
	case entry.VersionBefore != nil && latest.ID == *entry.VersionBefore:
		return RollbackReverted, rec, nil
	}
	return RollbackChanged, rec, nil
}

func addressesHeld(st store.Store, rec model.PeeringRecord) (bool, error) {
	for _, f := range []store.RecordFilter{
		{IPv4: rec.IPv4, Status: []string{model.StatusOK, model.StatusPending}},
		{IPv6: rec.IPv6, Status: []string{model.StatusOK, model.StatusPending}},
	} {
		if f.IPv4 == "" && f.IPv6 == "" {
			continue
		}
		others, err := st.ListRecords(f)
		if err != nil {
			return false, fmt.Errorf("list records: %w", err)
		}
		for _, o := range others {
			if o.ID != rec.ID {
				return true, nil
			}
		}
	}
	return false, nil
}

// revert restores the version before entry, then rolls back the other
// entries of the same record.
func (imp *Importer) revert(tx store.Store, entry model.ImportLogEntry, all []model.ImportLogEntry, rec model.PeeringRecord) error {
	comment := fmt.Sprintf("rollback of import log entry %d", entry.ID)
	if entry.VersionBefore == nil {
		if !rec.Active() {
			return nil
		}
		rec.IPv4 = ""
		rec.IPv6 = ""
		rec.Status = model.StatusDeleted
		if _, err := tx.SaveRecord(&rec, comment); err != nil {
			return fmt.Errorf("delete record %d: %w", rec.ID, err)
		}
		return nil
	}
	if err := restoreEntry(tx, *entry.VersionBefore, comment); err != nil {
		return err
	}
	for _, other := range all {
		if other.ID == entry.ID || other.RecordID != entry.RecordID || other.ID > entry.ID {
			continue
		}
		if other.VersionBefore == nil {
			break
		}
		if err := restoreEntry(tx, *other.VersionBefore, fmt.Sprintf("rollback of import log entry %d", other.ID)); err != nil {
			return err
		}
	}
	return nil
}

func restoreEntry(tx store.Store, versionID uint, comment string) error {
	v, ok, err := tx.GetVersion(versionID)
	if err != nil {
		return fmt.Errorf("get version %d: %w", versionID, err)
	}
	if !ok {
		return fmt.Errorf("version %d: %w", versionID, store.ErrNotFound)
	}
	if _, err := restoreVersion(tx, v, comment); err != nil {
		return fmt.Errorf("restore version %d: %w", versionID, err)
	}
	return nil
}
