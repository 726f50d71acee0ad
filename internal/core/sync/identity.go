package sync

import (
	"strconv"
)

// identityFields is the resolution order for array item identifiers.
// First non-empty wins. caseNo/case_no cover the two spellings the
// case-tracking views emit.
var identityFields = [...]string{"id", "caseNo", "case_no", "uuid", "key"}

// ItemID resolves the identifier of one array item. Items without a
// resolvable identifier return "" and cannot be tracked for removal.
func ItemID(item map[string]any) string {
	for _, f := range identityFields {
		if v, ok := item[f]; ok {
			if s := coerceID(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func coerceID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// json numbers decode as float64; identifiers are whole numbers
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
