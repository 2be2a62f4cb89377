package ixf

import "time"

// Settings tunes the importer.
type Settings struct {
	// ModifySpeed and ModifyRSPeer allow the feed to change those fields
	// of existing records.
	ModifySpeed  bool
	ModifyRSPeer bool
	MinSpeed     int64 // Mbit, 0 speeds are never validated
	MaxSpeed     int64
	FetchTimeout time.Duration
	Workers      int // concurrent LANs in UpdateAll
	Stale        StaleSettings
	Notify       NotifySettings
}

type StaleSettings struct {
	Enabled       bool
	NotifyPeriod  time.Duration // between reminders
	NotifyCount   int           // reminders before removal
	RemovalPeriod time.Duration // minimum proposal age before removal, 0 disables the age check
}

type NotifySettings struct {
	NotifyNetworks     bool
	NotifyExchanges    bool
	TicketOnConflict   bool
	MailDebug          bool // log mail instead of sending it
	ResendFailedEmails bool
	SubjectPrefix      string
	From               string
	TicketRequester    string
	TicketDays         int
	// ErrorPeriod is the minimum time between two source error emails of a LAN.
	ErrorPeriod time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		ModifySpeed:  true,
		ModifyRSPeer: true,
		MinSpeed:     100,
		MaxSpeed:     1000000,
		FetchTimeout: 5 * time.Second,
		Workers:      4,
		Stale: StaleSettings{
			NotifyPeriod:  30 * 24 * time.Hour,
			NotifyCount:   3,
			RemovalPeriod: 90 * 24 * time.Hour,
		},
		Notify: NotifySettings{
			TicketOnConflict: true,
			MailDebug:        true,
			From:             "ixf@localhost",
			TicketRequester:  "ixf@localhost",
			TicketDays:       6,
			ErrorPeriod:      360 * time.Hour,
		},
	}
}
