package feed

import (
	"errors"
	"fmt"
)

var (
	ErrNoURL       = errors.New("IX-F import url not specified")
	ErrNotCached   = errors.New("IX-F data not locally cached for this resource yet.")
	ErrInvalidJSON = errors.New("No JSON could be parsed")
)

// StatusError is returned when the exporter answers with anything but 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Got HTTP status %d", e.Code)
}

// DuplicateAddressError is returned when one address shows up on two
// distinct vlan entries of the same document.
type DuplicateAddressError struct {
	Address string
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("Address %s assigned to more than one distinct connection", e.Address)
}
