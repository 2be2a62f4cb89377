package feed

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSpeed sums the interface speeds of a connection in Mbit. Values that
// do not parse are skipped and reported as messages.
func ParseSpeed(ifList []Interface) (int64, []string) {
	var total int64
	var errs []string
	for _, iface := range ifList {
		v, ok := speedValue(iface.IfSpeed)
		if !ok {
			errs = append(errs, fmt.Sprintf("Invalid speed value: %v", iface.IfSpeed))
			continue
		}
		total += v
	}
	return total, errs
}

func speedValue(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
