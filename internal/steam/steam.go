package steam

import (
	"fmt"
	"regexp"
	"strings"
)

// Steam64 IDs are 17-digit numbers with the fixed 7656119 prefix.
var (
	steam64Regex    = regexp.MustCompile(`^7656119\d{10}$`)
	profileURLRegex = regexp.MustCompile(`steamcommunity\.com/profiles/(\d{17})`)
)

func IsValidSteam64(steam64 string) bool {
	return steam64Regex.MatchString(steam64)
}

// ExtractSteam64 accepts either a raw Steam64 ID or a
// steamcommunity.com profile URL and returns the ID, or "" if neither.
func ExtractSteam64(input string) string {
	cleaned := strings.TrimSpace(input)

	if IsValidSteam64(cleaned) {
		return cleaned
	}

	if m := profileURLRegex.FindStringSubmatch(cleaned); m != nil {
		if IsValidSteam64(m[1]) {
			return m[1]
		}
	}

	return ""
}

func ProfileURL(steam64 string) string {
	return fmt.Sprintf("https://steamcommunity.com/profiles/%s", steam64)
}
