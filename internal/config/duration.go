package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// duration parses a config duration. Go syntax ("1m30s") and bare integers
// (seconds) are accepted; blank or zero yields def.
func duration(field, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(v); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(v); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}
