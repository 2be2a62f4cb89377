package store

import (
	"errors"
	"fmt"

	"ixf-sync/pkg/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrAddressInUse = errors.New("IP already exists")
)

// AddressConflictError reports the address family and value that is already
// held by another active record.
type AddressConflictError struct {
	Family  string // ipv4 or ipv6
	Address string
}

func (e *AddressConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Family, e.Address, ErrAddressInUse)
}

func (e *AddressConflictError) Unwrap() error { return ErrAddressInUse }

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	ExchangeLANID uint
	ASN           uint32
	IPv4          string
	IPv6          string
	Status        []string
}

// ProposalFilter narrows ListProposals. Zero fields match everything.
type ProposalFilter struct {
	ExchangeLANID uint
	ASN           uint32
}

// Store is the persistence layer of the importer. Transaction runs fn
// against a store whose writes become visible only when fn returns nil;
// transactions nest.
type Store interface {
	GetNetwork(id uint) (model.Network, bool, error)
	GetNetworkByASN(asn uint32) (model.Network, bool, error)
	SaveNetwork(n *model.Network) error
	GetExchange(id uint) (model.Exchange, bool, error)
	SaveExchange(e *model.Exchange) error
	GetExchangeLAN(id uint) (model.ExchangeLAN, bool, error)
	ListExchangeLANs() ([]model.ExchangeLAN, error)
	SaveExchangeLAN(l *model.ExchangeLAN) error

	GetRecord(id uint) (model.PeeringRecord, bool, error)
	ListRecords(f RecordFilter) ([]model.PeeringRecord, error)
	// SaveRecord writes the record and appends a version. It fails with
	// ErrAddressInUse when an active record would share an address with
	// another active record.
	SaveRecord(r *model.PeeringRecord, comment string) (model.RecordVersion, error)
	ListVersions(recordID uint) ([]model.RecordVersion, error) // newest first
	LatestVersion(recordID uint) (model.RecordVersion, bool, error)
	GetVersion(id uint) (model.RecordVersion, bool, error)

	ListProposals(f ProposalFilter) ([]model.Proposal, error)
	GetProposal(id uint) (model.Proposal, bool, error)
	SaveProposal(p *model.Proposal) error
	// DeleteProposal removes the proposal and, recursively, its requirements.
	DeleteProposal(id uint) error
	ListRequirements(parentID uint) ([]model.Proposal, error)

	CreateImportLog(l *model.ImportLog) error
	GetImportLog(id uint) (model.ImportLog, bool, error)
	ListImportLogs(lanID uint, limit int) ([]model.ImportLog, error)
	SaveImportAttempt(a model.ImportAttempt) error
	GetImportAttempt(lanID uint) (model.ImportAttempt, bool, error)

	SaveTicket(t *model.Ticket) error
	FindTicketBySubject(subject string) (model.Ticket, bool, error)
	DeleteTickets() error
	SaveEmailLog(e *model.EmailLog) error
	ListUnsentEmails() ([]model.EmailLog, error)
	DeleteEmailLogs() error

	AppendAudit(entry model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)

	Transaction(fn func(Store) error) error
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}

func statusIn(status string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
