package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ixf-sync/pkg/model"
)

// memState is everything a MemoryStore holds. Transactions work on a copy
// and swap it in on success.
type memState struct {
	nextID    uint
	networks  map[uint]model.Network
	exchanges map[uint]model.Exchange
	lans      map[uint]model.ExchangeLAN
	records   map[uint]model.PeeringRecord
	versions  map[uint]model.RecordVersion
	proposals map[uint]model.Proposal
	logs      map[uint]model.ImportLog
	attempts  map[uint]model.ImportAttempt
	tickets   map[uint]model.Ticket
	emails    map[uint]model.EmailLog
	audit     []model.AuditEntry
}

func newMemState() *memState {
	return &memState{
		networks:  make(map[uint]model.Network),
		exchanges: make(map[uint]model.Exchange),
		lans:      make(map[uint]model.ExchangeLAN),
		records:   make(map[uint]model.PeeringRecord),
		versions:  make(map[uint]model.RecordVersion),
		proposals: make(map[uint]model.Proposal),
		logs:      make(map[uint]model.ImportLog),
		attempts:  make(map[uint]model.ImportAttempt),
		tickets:   make(map[uint]model.Ticket),
		emails:    make(map[uint]model.EmailLog),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		nextID:    s.nextID,
		networks:  cloneMap(s.networks),
		exchanges: cloneMap(s.exchanges),
		lans:      cloneMap(s.lans),
		records:   cloneMap(s.records),
		versions:  cloneMap(s.versions),
		proposals: cloneMap(s.proposals),
		logs:      cloneMap(s.logs),
		attempts:  cloneMap(s.attempts),
		tickets:   cloneMap(s.tickets),
		emails:    cloneMap(s.emails),
		audit:     append([]model.AuditEntry(nil), s.audit...),
	}
}

func (s *memState) id() uint {
	s.nextID++
	return s.nextID
}

// MemoryStore is a simple in-memory implementation, intended for dev/demo and tests.
type MemoryStore struct {
	txMu sync.Mutex // serializes writers so a committing transaction never drops a write
	mu   sync.RWMutex
	st   *memState
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState(), now: time.Now}
}

func (m *MemoryStore) read(fn func(*memState)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.st)
}

func (m *MemoryStore) write(fn func(*memState) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

func (m *MemoryStore) Transaction(fn func(Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.RLock()
	tx := &MemoryStore{st: m.st.clone(), now: m.now}
	m.mu.RUnlock()
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	m.st = tx.st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetNetwork(id uint) (model.Network, bool, error) {
	var n model.Network
	var ok bool
	m.read(func(s *memState) { n, ok = s.networks[id] })
	return n, ok, nil
}

func (m *MemoryStore) GetNetworkByASN(asn uint32) (model.Network, bool, error) {
	var out model.Network
	var found bool
	m.read(func(s *memState) {
		for _, n := range s.networks {
			if n.ASN == asn {
				out, found = n, true
				return
			}
		}
	})
	return out, found, nil
}

func (m *MemoryStore) SaveNetwork(n *model.Network) error {
	return m.write(func(s *memState) error {
		for _, other := range s.networks {
			if other.ASN == n.ASN && other.ID != n.ID {
				return fmt.Errorf("network AS%d already exists", n.ASN)
			}
		}
		now := m.now()
		if n.ID == 0 {
			n.ID = s.id()
			n.CreatedAt = now
		}
		n.UpdatedAt = now
		contacts := make([]model.Contact, len(n.Contacts))
		for i, c := range n.Contacts {
			if c.ID == 0 {
				c.ID = s.id()
			}
			c.NetworkID = n.ID
			contacts[i] = c
		}
		n.Contacts = contacts
		s.networks[n.ID] = *n
		return nil
	})
}

func (m *MemoryStore) GetExchange(id uint) (model.Exchange, bool, error) {
	var e model.Exchange
	var ok bool
	m.read(func(s *memState) { e, ok = s.exchanges[id] })
	return e, ok, nil
}

func (m *MemoryStore) SaveExchange(e *model.Exchange) error {
	return m.write(func(s *memState) error {
		now := m.now()
		if e.ID == 0 {
			e.ID = s.id()
			e.CreatedAt = now
		}
		e.UpdatedAt = now
		s.exchanges[e.ID] = *e
		return nil
	})
}

func (m *MemoryStore) GetExchangeLAN(id uint) (model.ExchangeLAN, bool, error) {
	var l model.ExchangeLAN
	var ok bool
	m.read(func(s *memState) { l, ok = s.lans[id] })
	return l, ok, nil
}

func (m *MemoryStore) ListExchangeLANs() ([]model.ExchangeLAN, error) {
	var out []model.ExchangeLAN
	m.read(func(s *memState) {
		out = make([]model.ExchangeLAN, 0, len(s.lans))
		for _, l := range s.lans {
			out = append(out, l)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveExchangeLAN(l *model.ExchangeLAN) error {
	return m.write(func(s *memState) error {
		now := m.now()
		if l.ID == 0 {
			l.ID = s.id()
			l.CreatedAt = now
		}
		l.UpdatedAt = now
		l.Prefixes = append([]string(nil), l.Prefixes...)
		s.lans[l.ID] = *l
		return nil
	})
}

func (m *MemoryStore) GetRecord(id uint) (model.PeeringRecord, bool, error) {
	var r model.PeeringRecord
	var ok bool
	m.read(func(s *memState) { r, ok = s.records[id] })
	return r, ok, nil
}

func matchRecord(r model.PeeringRecord, f RecordFilter) bool {
	if f.ExchangeLANID != 0 && r.ExchangeLANID != f.ExchangeLANID {
		return false
	}
	if f.ASN != 0 && r.ASN != f.ASN {
		return false
	}
	if f.IPv4 != "" && r.IPv4 != f.IPv4 {
		return false
	}
	if f.IPv6 != "" && r.IPv6 != f.IPv6 {
		return false
	}
	return statusIn(r.Status, f.Status)
}

func (m *MemoryStore) ListRecords(f RecordFilter) ([]model.PeeringRecord, error) {
	var out []model.PeeringRecord
	m.read(func(s *memState) {
		for _, r := range s.records {
			if matchRecord(r, f) {
				out = append(out, r)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SaveRecord(r *model.PeeringRecord, comment string) (model.RecordVersion, error) {
	var v model.RecordVersion
	err := m.write(func(s *memState) error {
		if r.Active() {
			for _, other := range s.records {
				if other.ID == r.ID || !other.Active() {
					continue
				}
				if r.IPv4 != "" && other.IPv4 == r.IPv4 {
					return &AddressConflictError{Family: "ipv4", Address: r.IPv4}
				}
				if r.IPv6 != "" && other.IPv6 == r.IPv6 {
					return &AddressConflictError{Family: "ipv6", Address: r.IPv6}
				}
			}
		}
		now := m.now()
		if r.ID == 0 {
			r.ID = s.id()
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		s.records[r.ID] = *r

		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		v = model.RecordVersion{ID: s.id(), RecordID: r.ID, Data: string(data), Comment: comment, CreatedAt: now}
		s.versions[v.ID] = v
		return nil
	})
	return v, err
}

func (m *MemoryStore) ListVersions(recordID uint) ([]model.RecordVersion, error) {
	var out []model.RecordVersion
	m.read(func(s *memState) {
		for _, v := range s.versions {
			if v.RecordID == recordID {
				out = append(out, v)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) LatestVersion(recordID uint) (model.RecordVersion, bool, error) {
	versions, _ := m.ListVersions(recordID)
	if len(versions) == 0 {
		return model.RecordVersion{}, false, nil
	}
	return versions[0], true, nil
}

func (m *MemoryStore) GetVersion(id uint) (model.RecordVersion, bool, error) {
	var v model.RecordVersion
	var ok bool
	m.read(func(s *memState) { v, ok = s.versions[id] })
	return v, ok, nil
}

func (m *MemoryStore) ListProposals(f ProposalFilter) ([]model.Proposal, error) {
	var out []model.Proposal
	m.read(func(s *memState) {
		for _, p := range s.proposals {
			if f.ExchangeLANID != 0 && p.ExchangeLANID != f.ExchangeLANID {
				continue
			}
			if f.ASN != 0 && p.ASN != f.ASN {
				continue
			}
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetProposal(id uint) (model.Proposal, bool, error) {
	var p model.Proposal
	var ok bool
	m.read(func(s *memState) { p, ok = s.proposals[id] })
	return p, ok, nil
}

func (m *MemoryStore) SaveProposal(p *model.Proposal) error {
	return m.write(func(s *memState) error {
		now := m.now()
		if p.ID == 0 {
			p.ID = s.id()
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
		}
		p.UpdatedAt = now
		s.proposals[p.ID] = *p
		return nil
	})
}

func (m *MemoryStore) DeleteProposal(id uint) error {
	return m.write(func(s *memState) error {
		s.deleteProposal(id)
		return nil
	})
}

func (s *memState) deleteProposal(id uint) {
	delete(s.proposals, id)
	for _, p := range s.proposals {
		if p.RequirementOfID != nil && *p.RequirementOfID == id {
			s.deleteProposal(p.ID)
		}
	}
}

func (m *MemoryStore) ListRequirements(parentID uint) ([]model.Proposal, error) {
	var out []model.Proposal
	m.read(func(s *memState) {
		for _, p := range s.proposals {
			if p.RequirementOfID != nil && *p.RequirementOfID == parentID {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateImportLog(l *model.ImportLog) error {
	return m.write(func(s *memState) error {
		l.ID = s.id()
		if l.CreatedAt.IsZero() {
			l.CreatedAt = m.now()
		}
		entries := make([]model.ImportLogEntry, len(l.Entries))
		for i, e := range l.Entries {
			e.ID = s.id()
			e.LogID = l.ID
			entries[i] = e
		}
		l.Entries = entries
		s.logs[l.ID] = *l
		return nil
	})
}

func (m *MemoryStore) GetImportLog(id uint) (model.ImportLog, bool, error) {
	var l model.ImportLog
	var ok bool
	m.read(func(s *memState) { l, ok = s.logs[id] })
	return l, ok, nil
}

func (m *MemoryStore) ListImportLogs(lanID uint, limit int) ([]model.ImportLog, error) {
	var out []model.ImportLog
	m.read(func(s *memState) {
		for _, l := range s.logs {
			if lanID == 0 || l.ExchangeLANID == lanID {
				out = append(out, l)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveImportAttempt(a model.ImportAttempt) error {
	return m.write(func(s *memState) error {
		if a.Updated.IsZero() {
			a.Updated = m.now()
		}
		s.attempts[a.ExchangeLANID] = a
		return nil
	})
}

func (m *MemoryStore) GetImportAttempt(lanID uint) (model.ImportAttempt, bool, error) {
	var a model.ImportAttempt
	var ok bool
	m.read(func(s *memState) { a, ok = s.attempts[lanID] })
	return a, ok, nil
}

func (m *MemoryStore) SaveTicket(t *model.Ticket) error {
	return m.write(func(s *memState) error {
		if t.ID == 0 {
			t.ID = s.id()
			t.CreatedAt = m.now()
		}
		s.tickets[t.ID] = *t
		return nil
	})
}

func (m *MemoryStore) FindTicketBySubject(subject string) (model.Ticket, bool, error) {
	var out model.Ticket
	var found bool
	m.read(func(s *memState) {
		for _, t := range s.tickets {
			if t.Subject != subject || t.TicketID == 0 {
				continue
			}
			if !found || t.ID < out.ID {
				out, found = t, true
			}
		}
	})
	return out, found, nil
}

func (m *MemoryStore) DeleteTickets() error {
	return m.write(func(s *memState) error {
		s.tickets = make(map[uint]model.Ticket)
		return nil
	})
}

func (m *MemoryStore) SaveEmailLog(e *model.EmailLog) error {
	return m.write(func(s *memState) error {
		if e.ID == 0 {
			e.ID = s.id()
			e.CreatedAt = m.now()
		}
		s.emails[e.ID] = *e
		return nil
	})
}

func (m *MemoryStore) ListUnsentEmails() ([]model.EmailLog, error) {
	var out []model.EmailLog
	m.read(func(s *memState) {
		for _, e := range s.emails {
			if e.Sent == nil {
				out = append(out, e)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteEmailLogs() error {
	return m.write(func(s *memState) error {
		s.emails = make(map[uint]model.EmailLog)
		return nil
	})
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	return m.write(func(s *memState) error {
		entry.ID = s.id()
		if entry.Timestamp.IsZero() {
			entry.Timestamp = m.now()
		}
		s.audit = append(s.audit, entry)
		return nil
	})
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	m.read(func(s *memState) {
		if limit <= 0 || limit > len(s.audit) {
			limit = len(s.audit)
		}
		out = make([]model.AuditEntry, 0, limit)
		start := len(s.audit) - limit
		for i := start; i < len(s.audit); i++ {
			out = append(out, s.audit[i])
		}
	})
	return out, nil
}
