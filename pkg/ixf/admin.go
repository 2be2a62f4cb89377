package ixf

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ixf-sync/pkg/lock"
	"ixf-sync/pkg/metrics"
	"ixf-sync/pkg/model"
	"ixf-sync/pkg/notify"
	"ixf-sync/pkg/store"
)

// email logs the mail and sends it unless mail to that kind of recipient
// is disabled or mail debugging is on.
func (imp *Importer) email(ctx context.Context, logger *slog.Logger, subject, body string, to []string, net *model.Network, ix *model.Exchange) {
	if len(to) == 0 {
		return
	}
	s := imp.Settings.Notify
	entry := model.EmailLog{
		Subject:    subject,
		Message:    body,
		Recipients: strings.Join(to, ","),
	}
	if net != nil {
		id := net.ID
		entry.NetworkID = &id
	}
	if ix != nil {
		id := ix.ID
		entry.ExchangeID = &id
	}
	if err := imp.Store.SaveEmailLog(&entry); err != nil {
		logger.Error("save email log", "err", err)
		return
	}
	if (net != nil && !s.NotifyNetworks) || (ix != nil && !s.NotifyExchanges) || s.MailDebug {
		metrics.Notifications.WithLabelValues("email", "logged").Inc()
		return
	}
	if err := imp.send(ctx, &entry, body); err != nil {
		logger.Warn("email failed", "to", entry.Recipients, "err", err)
	}
	if err := imp.Store.SaveEmailLog(&entry); err != nil {
		logger.Error("save email log", "err", err)
	}
}

func (imp *Importer) send(ctx context.Context, entry *model.EmailLog, body string) error {
	err := imp.mailer().Send(ctx, notify.Message{
		From:    imp.Settings.Notify.From,
		To:      strings.Split(entry.Recipients, ","),
		Subject: entry.Subject,
		Body:    body,
	})
	if err != nil {
		metrics.Notifications.WithLabelValues("email", "failed").Inc()
		entry.Error = err.Error()
		return err
	}
	metrics.Notifications.WithLabelValues("email", "sent").Inc()
	now := imp.now()
	entry.Sent = &now
	entry.Error = ""
	return nil
}

const resendNotice = "This email could not be delivered initially and may contain stale information. \n"

// ResendEmails retries logged emails that were never delivered.
func (imp *Importer) ResendEmails(ctx context.Context) ([]model.EmailLog, error) {
	s := imp.Settings.Notify
	if !s.ResendFailedEmails || s.MailDebug {
		return nil, nil
	}
	unsent, err := imp.Store.ListUnsentEmails()
	if err != nil {
		return nil, fmt.Errorf("list unsent emails: %w", err)
	}
	logger := imp.logger().With("component", "ixf")
	var out []model.EmailLog
	for _, entry := range unsent {
		if entry.NetworkID != nil && !s.NotifyNetworks {
			continue
		}
		if entry.ExchangeID != nil && !s.NotifyExchanges {
			continue
		}
		body := entry.Message
		if !strings.HasPrefix(body, resendNotice) {
			body = resendNotice + body
		}
		if err := imp.send(ctx, &entry, body); err != nil {
			logger.Warn("resend failed", "email", entry.ID, "err", err)
			if err := imp.Store.SaveEmailLog(&entry); err != nil {
				return out, fmt.Errorf("save email log %d: %w", entry.ID, err)
			}
			continue
		}
		entry.Message = body
		if err := imp.Store.SaveEmailLog(&entry); err != nil {
			return out, fmt.Errorf("save email log %d: %w", entry.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// ResetOptions selects what Reset clears.
type ResetOptions struct {
	Hints     bool // all proposals of the LAN
	Dismisses bool // dismissed flags of the LAN's proposals
	Tickets   bool // every ticket and the ticket links of the LAN's proposals
	Email     bool // the whole email log
}

// Reset clears importer state for an exchange LAN.
func (imp *Importer) Reset(ctx context.Context, actor string, lanID uint, opts ResetOptions) error {
	ctx, unlock, err := imp.locker().Lock(ctx, lock.LANKey(lanID))
	if err != nil {
		return fmt.Errorf("lock exchange lan %d: %w", lanID, err)
	}
	defer unlock()

	return imp.Store.Transaction(func(tx store.Store) error {
		ps, err := tx.ListProposals(store.ProposalFilter{ExchangeLANID: lanID})
		if err != nil {
			return fmt.Errorf("list proposals: %w", err)
		}
		audit := func(action string) error {
			return tx.AppendAudit(model.AuditEntry{
				Actor:     actor,
				Action:    action,
				Target:    fmt.Sprintf("exchange-lan/%d", lanID),
				Timestamp: imp.now(),
			})
		}
		if opts.Hints {
			for _, p := range ps {
				if err := tx.DeleteProposal(p.ID); err != nil {
					return fmt.Errorf("delete proposal %d: %w", p.ID, err)
				}
			}
			if err := audit("reset-hints"); err != nil {
				return err
			}
		}
		if opts.Dismisses && !opts.Hints {
			for i := range ps {
				if !ps[i].Dismissed {
					continue
				}
				ps[i].Dismissed = false
				if err := tx.SaveProposal(&ps[i]); err != nil {
					return fmt.Errorf("save proposal %d: %w", ps[i].ID, err)
				}
			}
		}
		if opts.Dismisses {
			if err := audit("reset-dismisses"); err != nil {
				return err
			}
		}
		if opts.Tickets {
			if !opts.Hints {
				for i := range ps {
					if ps[i].TicketID == 0 && ps[i].TicketRef == "" {
						continue
					}
					ps[i].TicketID = 0
					ps[i].TicketRef = ""
					if err := tx.SaveProposal(&ps[i]); err != nil {
						return fmt.Errorf("save proposal %d: %w", ps[i].ID, err)
					}
				}
			}
			if err := tx.DeleteTickets(); err != nil {
				return fmt.Errorf("delete tickets: %w", err)
			}
			if err := audit("reset-tickets"); err != nil {
				return err
			}
		}
		if opts.Email {
			if err := tx.DeleteEmailLogs(); err != nil {
				return fmt.Errorf("delete email logs: %w", err)
			}
			if err := audit("reset-email"); err != nil {
				return err
			}
		}
		return nil
	})
}
