package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Mercado Livre listing ids look like MLB-1234567890 or MLB1234567890 (MLA, MLM... per site).
var mlItemIDPattern = regexp.MustCompile(`\b(ML[A-Z])-?(\d{6,})`)

// resolveItemID prefers the provider id, then the id embedded in the product
// URL path, then a content hash of the title. productURL must already be
// canonical so tracking parameters cannot name another listing.
func resolveItemID(raw any, productURL, title string) string {
	if id := providerItemID(raw); id != "" {
		return id
	}
	if id := itemIDFromURL(productURL); id != "" {
		return id
	}
	return titleHashID(title)
}

func providerItemID(raw any) string {
	switch t := raw.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func itemIDFromURL(productURL string) string {
	u, err := url.Parse(productURL)
	if err != nil {
		return ""
	}
	m := mlItemIDPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return m[1] + m[2]
}

// titleHashID is stable across runs and processes: it only depends on the
// case-folded, whitespace-collapsed title.
func titleHashID(title string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(title), " "))
	sum := sha256.Sum256([]byte(normalized))
	return "h" + hex.EncodeToString(sum[:])[:16]
}

// canonicalURL drops query and fragment. Relative links resolve against source.
func canonicalURL(raw, source string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if !u.IsAbs() && source != "" {
		base, err := url.Parse(source)
		if err == nil {
			u = base.ResolveReference(u)
		}
	}
	if u.Host == "" {
		return "", ErrInvalidURL
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
