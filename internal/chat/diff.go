// ABOUTME: Sed-style rendering of message edits
// ABOUTME: Uses difflib opcodes over words to find the changed span

package chat

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// SedDiff renders the change from a to b as "s/old/new/", covering the span
// between the first and the last differing word. Equal inputs yield "".
func SedDiff(a, b string) string {
	if a == b {
		return ""
	}
	aw := strings.Fields(a)
	bw := strings.Fields(b)

	var first, last *difflib.OpCode
	ops := difflib.NewMatcher(aw, bw).GetOpCodes()
	for i := range ops {
		if ops[i].Tag == 'e' {
			continue
		}
		if first == nil {
			first = &ops[i]
		}
		last = &ops[i]
	}
	if first == nil {
		// Only whitespace changed.
		return fmt.Sprintf("s/%s/%s/", a, b)
	}
	return fmt.Sprintf("s/%s/%s/",
		strings.Join(aw[first.I1:last.I2], " "),
		strings.Join(bw[first.J1:last.J2], " "))
}

// DiffMessage returns the message rendered for an edit: the sed-style diff
// attributed to the author of the new text.
func (e MessageEdit) DiffMessage() Message {
	return Message{
		Channel: e.Channel,
		User:    e.Current.User,
		Text:    SedDiff(e.Previous.Text, e.Current.Text),
	}
}
