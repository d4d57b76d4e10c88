// Package nut15 implements the multi-path payment feasibility check
// from [NUT-15].
//
// [NUT-15]: https://github.com/cashubtc/nuts/blob/main/15.md
package nut15

import (
	"errors"

	"github.com/elnosh/gonuts/cashu"
	"github.com/elnosh/gonuts/cashu/nuts/nut06"
)

var ErrSplitTooShort = errors.New("length of split too short")

// IsMppSupported reports whether mintInfo advertises NUT-15 support
// for unit. The caller fetches mintInfo once (via GetMintInfo) and
// passes it in here, since this package has no mint client of its own
// and importing the wallet package would create an import cycle.
func IsMppSupported(mintInfo *nut06.MintInfo, unit cashu.Unit) bool {
	if mintInfo == nil {
		return false
	}

	setting, ok := mintInfo.Nuts[15]
	if !ok {
		return false
	}

	settingMap, ok := setting.(map[string]any)
	if !ok {
		// some mints just advertise `"15": true` with no per-method detail
		return true
	}
	methods, ok := settingMap["methods"].([]any)
	if !ok {
		return true
	}

	for _, m := range methods {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if entry["unit"] == unit.String() && entry["method"] == cashu.BOLT11_METHOD {
			return true
		}
	}

	return false
}
