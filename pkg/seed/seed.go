// Package seed loads registry fixtures from YAML so the importer can run
// without the registry that normally owns these objects.
package seed

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"ixf-sync/pkg/model"
	"ixf-sync/pkg/store"
)

type Fixture struct {
	Networks  []model.Network `yaml:"networks"`
	Exchanges []Exchange      `yaml:"exchanges"`
}

type Exchange struct {
	model.Exchange `yaml:",inline"`
	LANs           []LAN `yaml:"lans"`
}

type LAN struct {
	model.ExchangeLAN `yaml:",inline"`
	Records           []model.PeeringRecord `yaml:"records"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Networks  int `json:"networks"`
	Exchanges int `json:"exchanges"`
	LANs      int `json:"lans"`
	Records   int `json:"records"`
}

// Load decodes a fixture, rejecting unknown keys.
func Load(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &f, nil
}

// Apply writes the fixture in one transaction. Networks are matched by ASN
// and LANs by export URL, so applying the same fixture twice only updates.
func Apply(st store.Store, f *Fixture) (Summary, error) {
	var sum Summary
	err := st.Transaction(func(tx store.Store) error {
		sum = Summary{}
		byASN := map[uint32]model.Network{}
		for _, n := range f.Networks {
			if n.ASN == 0 {
				return errors.New("network without asn")
			}
			if existing, ok, err := tx.GetNetworkByASN(n.ASN); err != nil {
				return fmt.Errorf("get AS%d: %w", n.ASN, err)
			} else if ok {
				n.ID = existing.ID
				n.CreatedAt = existing.CreatedAt
			}
			if n.Status == "" {
				n.Status = model.StatusOK
			}
			for i := range n.Contacts {
				if n.Contacts[i].Status == "" {
					n.Contacts[i].Status = model.StatusOK
				}
			}
			if err := tx.SaveNetwork(&n); err != nil {
				return fmt.Errorf("save AS%d: %w", n.ASN, err)
			}
			byASN[n.ASN] = n
			sum.Networks++
		}

		lans, err := tx.ListExchangeLANs()
		if err != nil {
			return fmt.Errorf("list exchange lans: %w", err)
		}
		byURL := map[string]model.ExchangeLAN{}
		for _, l := range lans {
			if l.IXFURL != "" {
				byURL[l.IXFURL] = l
			}
		}

		for _, fx := range f.Exchanges {
			ix := fx.Exchange
			for _, l := range fx.LANs {
				if prev, ok := byURL[l.IXFURL]; ok && l.IXFURL != "" {
					ix.ID = prev.ExchangeID
					break
				}
			}
			if ix.Status == "" {
				ix.Status = model.StatusOK
			}
			if err := tx.SaveExchange(&ix); err != nil {
				return fmt.Errorf("save exchange %q: %w", ix.Name, err)
			}
			sum.Exchanges++
			for _, fl := range fx.LANs {
				lan := fl.ExchangeLAN
				if prev, ok := byURL[lan.IXFURL]; ok && lan.IXFURL != "" {
					lan.ID = prev.ID
					lan.ProtocolConflict = prev.ProtocolConflict
					lan.ImportError = prev.ImportError
					lan.ImportErrorNotified = prev.ImportErrorNotified
				}
				lan.ExchangeID = ix.ID
				if err := tx.SaveExchangeLAN(&lan); err != nil {
					return fmt.Errorf("save lan %q: %w", lan.Name, err)
				}
				sum.LANs++
				n, err := seedRecords(tx, lan, fl.Records, byASN)
				if err != nil {
					return err
				}
				sum.Records += n
			}
		}
		return nil
	})
	return sum, err
}

func seedRecords(tx store.Store, lan model.ExchangeLAN, recs []model.PeeringRecord, byASN map[uint32]model.Network) (int, error) {
	written := 0
	for _, rec := range recs {
		net, ok := byASN[rec.ASN]
		if !ok {
			got, found, err := tx.GetNetworkByASN(rec.ASN)
			if err != nil {
				return written, fmt.Errorf("get AS%d: %w", rec.ASN, err)
			}
			if !found {
				return written, fmt.Errorf("record on lan %q: AS%d: %w", lan.Name, rec.ASN, store.ErrNotFound)
			}
			net = got
		}
		existing, err := tx.ListRecords(store.RecordFilter{ExchangeLANID: lan.ID, ASN: rec.ASN, IPv4: rec.IPv4, IPv6: rec.IPv6})
		if err != nil {
			return written, fmt.Errorf("list records: %w", err)
		}
		if len(existing) > 0 {
			rec.ID = existing[0].ID
		}
		rec.NetworkID = net.ID
		rec.ExchangeLANID = lan.ID
		if rec.Status == "" {
			rec.Status = model.StatusOK
		}
		if _, err := tx.SaveRecord(&rec, "seed"); err != nil {
			return written, fmt.Errorf("save record AS%d %s %s: %w", rec.ASN, rec.IPv4, rec.IPv6, err)
		}
		written++
	}
	return written, nil
}
