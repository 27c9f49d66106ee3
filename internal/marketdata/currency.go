package marketdata

import "strings"

// InferCurrency maps an exchange suffix to an ISO 4217 currency code.
// Commodities trade in USD regardless of symbol.
func InferCurrency(symbol, assetType string) string {
	if assetType == "commodity" {
		return "USD"
	}
	base := strings.ToLower(symbol)
	switch {
	case strings.HasSuffix(base, ".us"):
		return "USD"
	case hasAnySuffix(base, ".uk", ".lon"):
		return "GBP"
	case hasAnySuffix(base, ".de", ".dex", ".xetra", ".fr", ".pa", ".mi", ".as"):
		return "EUR"
	case hasAnySuffix(base, ".to", ".trt", ".trv"):
		return "CAD"
	case strings.HasSuffix(base, ".sw"):
		return "CHF"
	case strings.HasSuffix(base, ".hk"):
		return "HKD"
	case hasAnySuffix(base, ".ss", ".sh", ".sz"):
		return "CNY"
	}
	return "USD"
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
