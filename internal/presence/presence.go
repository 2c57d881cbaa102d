// Package presence renders the strings a bot shows in chat: the rotating
// working indicator, the presence line and the price label.
package presence

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Initializing = "Initializing..."
	StaleWarning = "ERROR: data may be stale!"

	ellipsis = "…"
)

var spinner = []rune("⣾⣽⣻⢿⡿⣟⣯⣷")

// ErrLabelTooLong means the price alone does not fit the platform budget.
var ErrLabelTooLong = errors.New("identity label exceeds platform limit")

// Limits are per-platform character budgets. Zero means unlimited.
type Limits struct {
	Label    int
	Presence int
}

// Indicator returns the spinner glyph for cycle n.
func Indicator(n uint64) string {
	return string(spinner[n%uint64(len(spinner))])
}

// PresenceText renders "<indicator> <suffix>" cut to the presence budget.
func PresenceText(indicator, suffix string, lim Limits) string {
	text := strings.TrimSpace(indicator + " " + suffix)
	return Truncate(text, lim.Presence)
}

// IdentityLabel renders "<name>: $<price>" with two decimals. When the label
// is over budget the name is shortened; if even the price segment does not
// fit, ErrLabelTooLong is returned rather than sending an invalid value.
func IdentityLabel(name string, price decimal.Decimal, lim Limits) (string, error) {
	priceSeg := ": $" + price.StringFixed(2)
	label := name + priceSeg
	if lim.Label <= 0 || utf8.RuneCountInString(label) <= lim.Label {
		return label, nil
	}

	room := lim.Label - utf8.RuneCountInString(priceSeg)
	if room < 1+utf8.RuneCountInString(ellipsis) {
		return "", fmt.Errorf("%w: %q needs %d characters, limit %d", ErrLabelTooLong, label, utf8.RuneCountInString(label), lim.Label)
	}
	return Truncate(name, room) + priceSeg, nil
}

// Truncate cuts s to at most limit characters, ending in an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	keep := limit - utf8.RuneCountInString(ellipsis)
	if keep <= 0 {
		return string(r[:limit])
	}
	return string(r[:keep]) + ellipsis
}
