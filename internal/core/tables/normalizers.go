package tables

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Country holds the names a country is written under in import files.
type Country struct {
	ISO string
	EN  string
	DE  string
	CS  string
	VI  string
}

// Countries maps ISO codes to localized names. English is the stored form.
var Countries = []Country{
	{"CZ", "Czech Republic", "Tschechien", "Česko", "Cộng hòa Séc"},
	{"DE", "Germany", "Deutschland", "Německo", "Đức"},
	{"AT", "Austria", "Österreich", "Rakousko", "Áo"},
	{"SK", "Slovakia", "Slowakei", "Slovensko", "Slovakia"},
	{"PL", "Poland", "Polen", "Polsko", "Ba Lan"},
	{"HU", "Hungary", "Ungarn", "Maďarsko", "Hungary"},
	{"FR", "France", "Frankreich", "Francie", "Pháp"},
	{"IT", "Italy", "Italien", "Itálie", "Ý"},
	{"ES", "Spain", "Spanien", "Španělsko", "Tây Ban Nha"},
	{"PT", "Portugal", "Portugal", "Portugalsko", "Bồ Đào Nha"},
	{"NL", "Netherlands", "Niederlande", "Nizozemsko", "Hà Lan"},
	{"BE", "Belgium", "Belgien", "Belgie", "Bỉ"},
	{"LU", "Luxembourg", "Luxemburg", "Lucembursko", "Luxembourg"},
	{"CH", "Switzerland", "Schweiz", "Švýcarsko", "Thụy Sĩ"},
	{"GB", "United Kingdom", "Vereinigtes Königreich", "Spojené království", "Vương quốc Anh"},
	{"IE", "Ireland", "Irland", "Irsko", "Ireland"},
	{"DK", "Denmark", "Dänemark", "Dánsko", "Đan Mạch"},
	{"SE", "Sweden", "Schweden", "Švédsko", "Thụy Điển"},
	{"NO", "Norway", "Norwegen", "Norsko", "Na Uy"},
	{"FI", "Finland", "Finnland", "Finsko", "Phần Lan"},
	{"RO", "Romania", "Rumänien", "Rumunsko", "Romania"},
	{"BG", "Bulgaria", "Bulgarien", "Bulharsko", "Bulgaria"},
	{"GR", "Greece", "Griechenland", "Řecko", "Hy Lạp"},
	{"HR", "Croatia", "Kroatien", "Chorvatsko", "Croatia"},
	{"SI", "Slovenia", "Slowenien", "Slovinsko", "Slovenia"},
	{"UA", "Ukraine", "Ukraine", "Ukrajina", "Ukraine"},
	{"US", "United States", "Vereinigte Staaten", "Spojené státy", "Hoa Kỳ"},
	{"CN", "China", "China", "Čína", "Trung Quốc"},
	{"JP", "Japan", "Japan", "Japonsko", "Nhật Bản"},
	{"KR", "South Korea", "Südkorea", "Jižní Korea", "Hàn Quốc"},
	{"VN", "Vietnam", "Vietnam", "Vietnam", "Việt Nam"},
	{"TH", "Thailand", "Thailand", "Thajsko", "Thái Lan"},
}

// countryAliases are spellings that are not one of the localized names.
var countryAliases = map[string]string{
	"czechia":                  "CZ",
	"czech":                    "CZ",
	"ceska republika":          "CZ",
	"tschechische republik":    "CZ",
	"cr":                       "CZ",
	"nemecko":                  "DE",
	"oesterreich":              "AT",
	"slovak republic":          "SK",
	"polska":                   "PL",
	"magyarorszag":             "HU",
	"holland":                  "NL",
	"holandsko":                "NL",
	"great britain":            "GB",
	"uk":                       "GB",
	"england":                  "GB",
	"usa":                      "US",
	"united states of america": "US",
	"viet nam":                 "VN",
	"duc":                      "DE",
}

var countryIndex = buildCountryIndex()

func buildCountryIndex() map[string]string {
	idx := make(map[string]string, len(Countries)*5+len(countryAliases))
	for _, c := range Countries {
		for _, name := range []string{c.EN, c.DE, c.CS, c.VI} {
			idx[foldName(name)] = c.ISO
		}
	}
	for alias, iso := range countryAliases {
		idx[foldName(alias)] = iso
	}
	return idx
}

// foldName lowercases s and strips combining accents, so "Česko" and
// "cesko" compare equal.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return folded
}

// CountryISO resolves a country written as an ISO code, a localized name or
// a common alias.
func CountryISO(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if len(s) == 2 {
		upper := strings.ToUpper(s)
		for _, c := range Countries {
			if c.ISO == upper {
				return upper, true
			}
		}
	}
	iso, ok := countryIndex[foldName(s)]
	return iso, ok
}

// NormalizeCountry returns the English name for a recognized country and the
// trimmed input otherwise.
func NormalizeCountry(s string) string {
	iso, ok := CountryISO(s)
	if !ok {
		return strings.TrimSpace(s)
	}
	for _, c := range Countries {
		if c.ISO == iso {
			return c.EN
		}
	}
	return strings.TrimSpace(s)
}

// NormalizePhone canonicalizes a phone number for storage and duplicate
// detection. Czech and German numbers get their country prefix; other
// numbers only have "00" rewritten to "+". Returns "" when fewer than five
// characters remain.
func NormalizePhone(phone, countryISO string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t', '/', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))

	switch countryISO {
	case "CZ":
		switch {
		case strings.HasPrefix(cleaned, "00420"):
			cleaned = cleaned[5:]
		case strings.HasPrefix(cleaned, "+420"):
			cleaned = cleaned[4:]
		case strings.HasPrefix(cleaned, "420") && len(cleaned) > 9:
			cleaned = cleaned[3:]
		}
		if isDigits(cleaned) {
			switch {
			case len(cleaned) == 9:
				return "+420" + cleaned
			case len(cleaned) > 9:
				return "+420" + cleaned[len(cleaned)-9:]
			}
		}
	case "DE":
		switch {
		case strings.HasPrefix(cleaned, "0049"):
			cleaned = cleaned[4:]
		case strings.HasPrefix(cleaned, "+49"):
			cleaned = cleaned[3:]
		case strings.HasPrefix(cleaned, "49") && len(cleaned) > 10:
			cleaned = cleaned[2:]
		}
		if cleaned != "" && !strings.HasPrefix(cleaned, "+") {
			return "+49" + strings.TrimPrefix(cleaned, "0")
		}
	}

	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}

	hasPlus := strings.HasPrefix(cleaned, "+")
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, cleaned)
	if hasPlus {
		digits = "+" + digits
	}
	if len(digits) < 5 {
		return ""
	}
	return digits
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
