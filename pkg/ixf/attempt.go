package ixf

import (
	"encoding/json"

	"ixf-sync/pkg/model"
)

// Peer describes the subject of an attempt log entry.
type Peer struct {
	ExchangeLANID uint   `json:"ixlanId"`
	ExchangeID    uint   `json:"ixId"`
	ExchangeName  string `json:"ixName"`
	ASN           uint32 `json:"asn"`
	NetworkID     uint   `json:"netId,omitempty"`
	IPv4          string `json:"ipv4,omitempty"`
	IPv6          string `json:"ipv6,omitempty"`
	Speed         *int64 `json:"speed,omitempty"`
	IsRSPeer      *bool  `json:"isRsPeer,omitempty"`
	Operational   *bool  `json:"operational,omitempty"`
}

// LogEntry is one decision of a run: add, modify, delete, noop, ignore
// or suggest-<action>.
type LogEntry struct {
	Peer   Peer   `json:"peer"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// AttemptLog is what a run did, in order.
type AttemptLog struct {
	Data   []*LogEntry `json:"data"`
	Errors []string    `json:"errors"`
}

func newAttemptLog() AttemptLog {
	return AttemptLog{Data: []*LogEntry{}, Errors: []string{}}
}

func (l *AttemptLog) remove(entry *LogEntry) {
	for i, e := range l.Data {
		if e == entry {
			l.Data = append(l.Data[:i], l.Data[i+1:]...)
			return
		}
	}
}

func (l AttemptLog) JSON() string {
	b, _ := json.Marshal(l)
	return string(b)
}

// Actions lists the action of every entry, in order.
func (l AttemptLog) Actions() []string {
	out := make([]string, 0, len(l.Data))
	for _, e := range l.Data {
		out = append(out, e.Action)
	}
	return out
}

func (r *run) peer(asn uint32) Peer {
	return Peer{
		ExchangeLANID: r.lan.ID,
		ExchangeID:    r.ix.ID,
		ExchangeName:  r.ix.Name,
		ASN:           asn,
	}
}

func (r *run) logPeer(p Peer, action, reason string) *LogEntry {
	entry := &LogEntry{Peer: p, Action: action, Reason: reason}
	r.log.Data = append(r.log.Data, entry)
	r.logger.Debug("peer", "asn", p.ASN, "action", action, "reason", reason)
	return entry
}

func recordPeer(p Peer, rec *model.PeeringRecord) Peer {
	speed, rs, op := rec.Speed, rec.IsRSPeer, rec.Operational
	p.NetworkID = rec.NetworkID
	p.IPv4 = rec.IPv4
	p.IPv6 = rec.IPv6
	p.Speed = &speed
	p.IsRSPeer = &rs
	p.Operational = &op
	return p
}

// logSuggest logs a proposal that was persisted instead of applied.
// Requirements of other proposals stay out of the log.
func (r *run) logSuggest(e *entry) {
	if e.RequirementOfID != nil {
		return
	}
	p := r.peer(e.ASN)
	speed, op := e.Speed, e.Operational
	p.NetworkID = e.net.ID
	p.IPv4 = e.IPv4
	p.IPv6 = e.IPv6
	p.Speed = &speed
	p.IsRSPeer = e.IsRSPeer
	p.Operational = &op
	e.logEntry = r.logPeer(p, "suggest-"+r.action(e), e.Reason)
}

func (r *run) logError(msg string, persist bool) {
	r.log.Errors = append(r.log.Errors, msg)
	r.logger.Warn("import error", "err", msg)
	if persist {
		r.saveLog()
	}
}

func (r *run) saveLog() {
	if !r.opts.Save {
		return
	}
	err := r.st.SaveImportAttempt(model.ImportAttempt{
		ExchangeLANID: r.lan.ID,
		Info:          r.log.JSON(),
		Updated:       r.now(),
	})
	if err != nil {
		r.logger.Error("save attempt log", "err", err)
	}
}
