package ixf

import (
	"bytes"
	"embed"
	"fmt"
	"math"
	"strings"
	"text/template"

	"ixf-sync/pkg/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"speed": formatSpeed,
	"addr": func(s string) string {
		if s == "" {
			return "None"
		}
		return s
	},
	"yesno": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
	"rs": func(b *bool) string {
		if b == nil {
			return "Unknown"
		}
		if *b {
			return "Yes"
		}
		return "No"
	},
	"indent": func(s string) string {
		return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
	},
}).ParseFS(templateFS, "templates/*.txt"))

func render(name string, data any) (string, error) {
	var b bytes.Buffer
	if err := templates.ExecuteTemplate(&b, name+".txt", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

// notice is the data of a single proposal notification.
type notice struct {
	Recipient  string // net, ix or ac
	Action     string
	Proposal   model.Proposal
	Name       string
	Exchange   model.Exchange
	LAN        model.ExchangeLAN
	Network    model.Network
	Record     model.PeeringRecord
	Changes    []Change
	Errors     map[string][]string
	Context    map[string]string
	TicketDays int
}

func (r *run) renderNotice(name, recipient string, n notification) (string, error) {
	e := n.e
	data := notice{
		Recipient:  recipient,
		Action:     r.action(e),
		Proposal:   e.Proposal,
		Name:       r.proposalString(e),
		Exchange:   r.ix,
		LAN:        r.lan,
		Network:    *e.net,
		Changes:    r.actionableChanges(e),
		Context:    n.context,
		TicketDays: r.settings().Notify.TicketDays,
	}
	if rec, err := r.record(e); err == nil && rec != nil {
		data.Record = *rec
	}
	if e.Error != "" {
		data.Errors = parseValidationError(e.Error).Fields
	}
	return render(name, data)
}

// formatSpeed renders Mbit values as M, G or T.
func formatSpeed(v int64) string {
	switch {
	case v >= 1000000:
		t := float64(v) / 1000000
		if t == math.Trunc(t) {
			return fmt.Sprintf("%.0fT", t)
		}
		return fmt.Sprintf("%.1fT", t)
	case v >= 1000:
		return fmt.Sprintf("%.0fG", float64(v)/1000)
	}
	return fmt.Sprintf("%dM", v)
}
