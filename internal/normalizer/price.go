package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// parsePrice accepts JSON numbers and numeric strings, including Brazilian
// formatted ones such as "R$ 1.299,90". ok is false when v is absent.
func parsePrice(v any) (price float64, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		price = t
	case float32:
		price = float64(t)
	case int:
		price = float64(t)
	case int64:
		price = float64(t)
	case json.Number:
		price, err = t.Float64()
		if err != nil {
			return 0, true, fmt.Errorf("%w: %q", ErrInvalidPrice, t.String())
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false, nil
		}
		price, err = parsePriceString(s)
		if err != nil {
			return 0, true, err
		}
	default:
		return 0, true, fmt.Errorf("%w: unsupported type %T", ErrInvalidPrice, v)
	}

	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return 0, true, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	return price, true, nil
}

func parsePriceString(s string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		// 1.299,90
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		// 1,299.90
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastComma >= 0 && (strings.Count(cleaned, ",") > 1 || groupsThousands(cleaned, lastComma)):
		// 1,299 or 1,299,000
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case lastComma >= 0:
		// 1299,90
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	case lastDot >= 0 && (strings.Count(cleaned, ".") > 1 || groupsThousands(cleaned, lastDot)):
		// R$ 1.299 or 1.299.000
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	return price, nil
}

// groupsThousands reports whether the lone separator at sep is followed by
// exactly three digits. Listing prices never carry three decimals, so
// "1.299" and "1,299" both read as 1299.
func groupsThousands(s string, sep int) bool {
	return sep > 0 && len(s)-sep-1 == 3
}

// formatPrice renders the shortest decimal form: 100, 99.9, 1299.9.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
