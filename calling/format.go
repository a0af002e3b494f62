/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is the region assumed for numbers without a country code.
const DefaultRegion = "US"

// FormatNumber renders a remote number for display. Three and four digit
// numbers are internal extensions. Other numbers are formatted nationally
// when they belong to DefaultRegion and internationally otherwise. Input
// that does not parse is returned unchanged.
func FormatNumber(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if isExtension(trimmed) {
		return "Ext. " + trimmed
	}

	num, err := phonenumbers.Parse(trimmed, DefaultRegion)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return raw
	}
	if int(num.GetCountryCode()) == phonenumbers.GetCountryCodeForRegion(DefaultRegion) {
		return phonenumbers.Format(num, phonenumbers.NATIONAL)
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

func isExtension(s string) bool {
	if len(s) < 3 || len(s) > 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DisplayLabel picks the caller label: the CRM name when the lookup matched,
// then the SIP display name, then the formatted number, then "Unknown".
func DisplayLabel(info CallerInfo, displayName, number string) string {
	if info.Found {
		if name := info.FullName(); name != "" {
			return name
		}
	}
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	if formatted := FormatNumber(number); strings.TrimSpace(formatted) != "" {
		return formatted
	}
	return "Unknown"
}
