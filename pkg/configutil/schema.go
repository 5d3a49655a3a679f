package configutil

import (
	"fmt"
	"sort"
	"strings"
)

// Schema names the keys a provider accepts in its vendor settings map.
// Required keys must be present and non-empty. Keys outside Required and
// Optional are rejected unless AllowUnknown is set, so a typo in a settings
// file fails at startup rather than dialing a provider half-configured.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// ValidateSettings checks a vendor settings map against its schema before
// decoding. Key comparison is case/underscore/hyphen insensitive, matching
// DecodeSettings.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Required {
		required[normalizeKey(k)] = k
		allowed[normalizeKey(k)] = struct{}{}
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}

	var missing, unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		if _, ok := allowed[nk]; !ok && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
		if canonical, ok := required[nk]; ok {
			if blank(v) {
				missing = append(missing, canonical)
			}
			delete(required, nk)
		}
	}
	for _, canonical := range required {
		missing = append(missing, canonical)
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(parts, "; "))
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
