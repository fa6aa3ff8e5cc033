package errdomain

import (
	"fmt"
	"strings"
)

// Category is the declared severity of a fault bit.
type Category uint8

const (
	CategoryUncategorized Category = iota
	CategoryOkay
	CategoryInfo
	CategoryCorrectable
	CategoryTransaction
	CategoryProcess
	CategoryDeviceFatal
	CategoryNodeFatal
	CategoryHardwareBug
)

var categoryNames = [...]string{
	CategoryUncategorized: "uncategorized",
	CategoryOkay:          "okay",
	CategoryInfo:          "info",
	CategoryCorrectable:   "correctable",
	CategoryTransaction:   "transaction",
	CategoryProcess:       "process",
	CategoryDeviceFatal:   "device_fatal",
	CategoryNodeFatal:     "node_fatal",
	CategoryHardwareBug:   "hardware_bug",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// ParseCategory maps the table spelling of a category to its value. An empty
// string is Uncategorized.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CategoryUncategorized, nil
	}
	for i, name := range categoryNames {
		if name == s {
			return Category(i), nil
		}
	}
	return CategoryUncategorized, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}
