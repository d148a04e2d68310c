package rates

import (
	"strings"
	"unicode"
)

// ProvinceCode maps a South African province name or alias to the courier's
// zone code. Matching ignores case, punctuation and extra whitespace.
// Unrecognised values are upper-cased and cut to three characters rather
// than rejected.
func ProvinceCode(name string) string {
	key := provinceKey(name)
	switch key {
	case "":
		return ""
	case "gauteng", "gp", "gt":
		return "GP"
	case "western cape", "wc", "w cape":
		return "WC"
	case "eastern cape", "ec", "e cape":
		return "EC"
	case "kwazulu natal", "kzn", "kwa zulu natal", "natal", "kz":
		return "KZN"
	case "free state", "fs", "orange free state":
		return "FS"
	case "limpopo", "lp", "lim", "northern province":
		return "LP"
	case "mpumalanga", "mp":
		return "MP"
	case "north west", "northwest", "nw":
		return "NW"
	case "northern cape", "nc", "n cape":
		return "NC"
	}

	upper := []rune(strings.ToUpper(strings.TrimSpace(name)))
	if len(upper) > 3 {
		upper = upper[:3]
	}
	return string(upper)
}

func provinceKey(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == ','
	})
	return strings.Join(fields, " ")
}
