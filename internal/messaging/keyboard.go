package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/AskFlow/internal/models"
)

// RenderKeyboard appends kb to body as plain text. Web app buttons become
// links. Two or more reply buttons become a numbered list; a lone reply
// button is shown as text to send, so a numeric answer stays literal.
func RenderKeyboard(body string, kb *models.Keyboard) string {
	if kb == nil || len(kb.Buttons) == 0 {
		return body
	}
	var sb strings.Builder
	sb.WriteString(body)
	opts := replyOptions(kb)
	numbered := len(opts) > 1
	n := 0
	for _, b := range kb.Buttons {
		switch {
		case b.WebAppURL != "":
			fmt.Fprintf(&sb, "\n%s: %s", b.Text, b.WebAppURL)
		case numbered:
			n++
			fmt.Fprintf(&sb, "\n%d. %s", n, b.Text)
		}
	}
	switch {
	case numbered:
		sb.WriteString("\nReply with the number or the text of your choice.")
	case len(opts) == 1:
		fmt.Fprintf(&sb, "\nOr reply %q.", opts[0])
	}
	return sb.String()
}

// replyOptions returns the labels of the reply (non web app) buttons in order.
func replyOptions(kb *models.Keyboard) []string {
	if kb == nil {
		return nil
	}
	var out []string
	for _, b := range kb.Buttons {
		if b.WebAppURL == "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// KeyboardTracker remembers the reply options last shown to each user so a
// numeric answer can be mapped back to the option label.
type KeyboardTracker struct {
	mu      sync.Mutex
	options map[string][]string
}

// NewKeyboardTracker returns an empty tracker.
func NewKeyboardTracker() *KeyboardTracker {
	return &KeyboardTracker{options: make(map[string][]string)}
}

// Track records the options of kb for user. A message with fewer than two
// reply options clears what was tracked, matching RenderKeyboard which only
// numbers lists of two or more.
func (t *KeyboardTracker) Track(user string, kb *models.Keyboard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	opts := replyOptions(kb)
	if len(opts) < 2 {
		delete(t.options, user)
		return
	}
	t.options[user] = opts
}

// Resolve maps "2" to the second tracked option and forgets the keyboard.
// Any other text is returned unchanged.
func (t *KeyboardTracker) Resolve(user, text string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	opts, ok := t.options[user]
	if !ok {
		return text
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(opts) {
		return text
	}
	delete(t.options, user)
	return opts[n-1]
}
