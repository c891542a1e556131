package domain

import (
	"fmt"
	"strings"
)

// District is one of the 22 administrative districts served by the platform.
type District string

var Districts = []District{
	"Ambala", "Bhiwani", "Charkhi Dadri", "Faridabad", "Fatehabad",
	"Gurugram", "Hisar", "Jhajjar", "Jind", "Kaithal", "Karnal",
	"Kurukshetra", "Mahendragarh", "Nuh", "Palwal", "Panchkula",
	"Panipat", "Rewari", "Rohtak", "Sirsa", "Sonipat", "Yamunanagar",
}

// ParseDistrict matches a district name case-insensitively.
func ParseDistrict(s string) (District, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, d := range Districts {
		if strings.ToLower(string(d)) == key {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDistrict, s)
}
