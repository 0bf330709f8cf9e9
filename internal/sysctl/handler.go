// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sysctl

import (
	"math"
	"strconv"
	"strings"

	"grimm.is/pernet/internal/errors"
)

// ProcDoIntVec renders and parses a single base-10 integer.
func ProcDoIntVec(e *Entry, op Op, in string) (string, error) {
	if op == OpRead {
		return strconv.FormatInt(int64(e.Data.Load()), 10), nil
	}

	s := strings.TrimSpace(in)
	if e.MaxLen > 0 && len(s) > maxDigits(e.MaxLen) {
		return "", errors.Op("sysctl.write", errors.KindValidation, "value for %s too long", e.Name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return "", errors.Wrapf(err, errors.KindValidation, "invalid integer for %s", e.Name)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return "", errors.Op("sysctl.write", errors.KindValidation, "value %d out of range for %s", v, e.Name)
	}
	e.Data.Store(int32(v))
	return "", nil
}

// maxDigits is the longest decimal rendering of a signed integer of n bytes.
func maxDigits(n int) int {
	switch {
	case n <= 1:
		return 4
	case n <= 2:
		return 6
	case n <= 4:
		return 11
	default:
		return 20
	}
}
