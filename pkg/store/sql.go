package store

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ixf-sync/pkg/model"
)

// Models lists every table the SQL store needs, in migration order.
var Models = []any{
	&model.Network{},
	&model.Contact{},
	&model.Exchange{},
	&model.ExchangeLAN{},
	&model.PeeringRecord{},
	&model.RecordVersion{},
	&model.Proposal{},
	&model.ImportLog{},
	&model.ImportLogEntry{},
	&model.ImportAttempt{},
	&model.Ticket{},
	&model.EmailLog{},
	&model.AuditEntry{},
}

// SQLStore is a gorm backed Store for MySQL and SQLite.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *gorm.DB { return s.db }

func first[T any](q *gorm.DB) (T, bool, error) {
	var out T
	err := q.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (s *SQLStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&SQLStore{db: tx})
	})
}

func (s *SQLStore) GetNetwork(id uint) (model.Network, bool, error) {
	return first[model.Network](s.db.Preload("Contacts").Where("id = ?", id))
}

func (s *SQLStore) GetNetworkByASN(asn uint32) (model.Network, bool, error) {
	return first[model.Network](s.db.Preload("Contacts").Where("asn = ?", asn))
}

func (s *SQLStore) SaveNetwork(n *model.Network) error {
	return s.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(n).Error
}

func (s *SQLStore) GetExchange(id uint) (model.Exchange, bool, error) {
	return first[model.Exchange](s.db.Where("id = ?", id))
}

func (s *SQLStore) SaveExchange(e *model.Exchange) error {
	return s.db.Save(e).Error
}

func (s *SQLStore) GetExchangeLAN(id uint) (model.ExchangeLAN, bool, error) {
	return first[model.ExchangeLAN](s.db.Where("id = ?", id))
}

func (s *SQLStore) ListExchangeLANs() ([]model.ExchangeLAN, error) {
	var out []model.ExchangeLAN
	err := s.db.Order("id").Find(&out).Error
	return out, err
}

func (s *SQLStore) SaveExchangeLAN(l *model.ExchangeLAN) error {
	return s.db.Save(l).Error
}

func (s *SQLStore) GetRecord(id uint) (model.PeeringRecord, bool, error) {
	return first[model.PeeringRecord](s.db.Where("id = ?", id))
}

func (s *SQLStore) ListRecords(f RecordFilter) ([]model.PeeringRecord, error) {
	q := s.db.Model(&model.PeeringRecord{})
	if f.ExchangeLANID != 0 {
		q = q.Where("exchange_lan_id = ?", f.ExchangeLANID)
	}
	if f.ASN != 0 {
		q = q.Where("asn = ?", f.ASN)
	}
	if f.IPv4 != "" {
		q = q.Where("ipv4 = ?", f.IPv4)
	}
	if f.IPv6 != "" {
		q = q.Where("ipv6 = ?", f.IPv6)
	}
	if len(f.Status) > 0 {
		q = q.Where("status IN ?", f.Status)
	}
	var out []model.PeeringRecord
	err := q.Order("id").Find(&out).Error
	return out, err
}

func (s *SQLStore) SaveRecord(r *model.PeeringRecord, comment string) (model.RecordVersion, error) {
	var v model.RecordVersion
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if r.Active() {
			if err := checkAddresses(tx, r); err != nil {
				return err
			}
		}
		if err := tx.Save(r).Error; err != nil {
			return err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		v = model.RecordVersion{RecordID: r.ID, Data: string(data), Comment: comment}
		return tx.Create(&v).Error
	})
	return v, err
}

func checkAddresses(tx *gorm.DB, r *model.PeeringRecord) error {
	active := model.ActiveStatuses
	check := func(column, addr string) error {
		if addr == "" {
			return nil
		}
		q := tx.Model(&model.PeeringRecord{}).
			Where(column+" = ? AND status IN ? AND id <> ?", addr, active, r.ID)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var ids []uint
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) > 0 {
			return &AddressConflictError{Family: column, Address: addr}
		}
		return nil
	}
	if err := check("ipv4", r.IPv4); err != nil {
		return err
	}
	return check("ipv6", r.IPv6)
}

func (s *SQLStore) ListVersions(recordID uint) ([]model.RecordVersion, error) {
	var out []model.RecordVersion
	err := s.db.Where("record_id = ?", recordID).Order("id DESC").Find(&out).Error
	return out, err
}

func (s *SQLStore) LatestVersion(recordID uint) (model.RecordVersion, bool, error) {
	return first[model.RecordVersion](s.db.Where("record_id = ?", recordID).Order("id DESC"))
}

func (s *SQLStore) GetVersion(id uint) (model.RecordVersion, bool, error) {
	return first[model.RecordVersion](s.db.Where("id = ?", id))
}

func (s *SQLStore) ListProposals(f ProposalFilter) ([]model.Proposal, error) {
	q := s.db.Model(&model.Proposal{})
	if f.ExchangeLANID != 0 {
		q = q.Where("exchange_lan_id = ?", f.ExchangeLANID)
	}
	if f.ASN != 0 {
		q = q.Where("asn = ?", f.ASN)
	}
	var out []model.Proposal
	err := q.Order("id").Find(&out).Error
	return out, err
}

func (s *SQLStore) GetProposal(id uint) (model.Proposal, bool, error) {
	return first[model.Proposal](s.db.Where("id = ?", id))
}

func (s *SQLStore) SaveProposal(p *model.Proposal) error {
	return s.db.Save(p).Error
}

func (s *SQLStore) DeleteProposal(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return deleteProposal(tx, id)
	})
}

func deleteProposal(tx *gorm.DB, id uint) error {
	var children []uint
	if err := tx.Model(&model.Proposal{}).Where("requirement_of_id = ?", id).Pluck("id", &children).Error; err != nil {
		return err
	}
	for _, child := range children {
		if err := deleteProposal(tx, child); err != nil {
			return err
		}
	}
	return tx.Delete(&model.Proposal{}, id).Error
}

func (s *SQLStore) ListRequirements(parentID uint) ([]model.Proposal, error) {
	var out []model.Proposal
	err := s.db.Where("requirement_of_id = ?", parentID).Order("id").Find(&out).Error
	return out, err
}

func (s *SQLStore) CreateImportLog(l *model.ImportLog) error {
	return s.db.Create(l).Error
}

func (s *SQLStore) GetImportLog(id uint) (model.ImportLog, bool, error) {
	return first[model.ImportLog](s.db.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Where("id = ?", id))
}

func (s *SQLStore) ListImportLogs(lanID uint, limit int) ([]model.ImportLog, error) {
	q := s.db.Preload("Entries", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).Order("id DESC")
	if lanID != 0 {
		q = q.Where("exchange_lan_id = ?", lanID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.ImportLog
	err := q.Find(&out).Error
	return out, err
}

func (s *SQLStore) SaveImportAttempt(a model.ImportAttempt) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&a).Error
}

func (s *SQLStore) GetImportAttempt(lanID uint) (model.ImportAttempt, bool, error) {
	return first[model.ImportAttempt](s.db.Where("exchange_lan_id = ?", lanID))
}

func (s *SQLStore) SaveTicket(t *model.Ticket) error {
	return s.db.Save(t).Error
}

func (s *SQLStore) FindTicketBySubject(subject string) (model.Ticket, bool, error) {
	return first[model.Ticket](s.db.Where("subject = ? AND ticket_id <> 0", subject).Order("id"))
}

func (s *SQLStore) DeleteTickets() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Ticket{}).Error
}

func (s *SQLStore) SaveEmailLog(e *model.EmailLog) error {
	return s.db.Save(e).Error
}

func (s *SQLStore) ListUnsentEmails() ([]model.EmailLog, error) {
	var out []model.EmailLog
	err := s.db.Where("sent IS NULL").Order("id").Find(&out).Error
	return out, err
}

func (s *SQLStore) DeleteEmailLogs() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.EmailLog{}).Error
}

func (s *SQLStore) AppendAudit(entry model.AuditEntry) error {
	return s.db.Create(&entry).Error
}

func (s *SQLStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	q := s.db.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []model.AuditEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
