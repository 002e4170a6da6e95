package egress

import (
	"strconv"
	"strings"
)

// IsPrivate reports whether ip, in textual form, falls in a "this network",
// private, loopback, link-local or unique-local range. Strings that are not
// dotted IPv4 quads are classified with textual IPv6 prefix rules, so any
// other input is considered public.
func IsPrivate(ip string) bool {
	if octets, ok := parseIPv4(ip); ok {
		switch {
		case octets[0] == 0, // 0.0.0.0/8
			octets[0] == 10,  // 10.0.0.0/8
			octets[0] == 127: // 127.0.0.0/8
			return true
		case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
			return true
		case octets[0] == 192 && octets[1] == 168:
			return true
		case octets[0] == 169 && octets[1] == 254:
			return true
		}
		return false
	}

	lower := strings.ToLower(ip)
	switch {
	case lower == "::1", lower == "::":
		return true
	case strings.HasPrefix(lower, "fc"), strings.HasPrefix(lower, "fd"):
		return true
	case strings.HasPrefix(lower, "fe80"):
		return true
	case strings.HasPrefix(lower, "::ffff:"):
		return IsPrivate(ip[len("::ffff:"):])
	}
	return false
}

// parseIPv4 splits a dotted quad of one to three digit groups. Values above
// 255 are accepted as-is, the classification only looks at leading octets.
func parseIPv4(s string) ([4]int, bool) {
	var out [4]int
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return out, false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return out, false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
