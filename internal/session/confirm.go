package session

import (
	"bytes"
	"time"
)

// safetyPromptNeedle is the literal text the assistant prints when it
// asks the user to confirm running with permission checks disabled.
// The default-selected choice on that prompt is "No, exit" — a stray
// newline before the prompt appears must never confirm it, which is
// why this is driven by detecting the needle in the output stream
// rather than a fixed delay.
const safetyPromptNeedle = "Yes, I accept"

// arrowDown is the escape sequence that moves the TUI selection down
// one row (from "No, exit" to "Yes, I accept").
const arrowDown = "\x1b[B"

// installConfirmer subscribes to sess's PTY output and watches for the
// safety prompt. On first match it unsubscribes, waits ConfirmMatchDelay,
// sends arrow-down, waits ConfirmEnterDelay, then sends a newline. If
// the prompt never appears within ConfirmTimeout the subscription is
// dropped silently.
func (m *Manager) installConfirmer(sess *Session) {
	ch, cancel := sess.out.subscribe()
	go func() {
		var seen []byte
		timeout := time.NewTimer(m.ConfirmTimeout)
		defer timeout.Stop()
		for {
			select {
			case data, ok := <-ch:
				if !ok {
					return
				}
				seen = append(seen, data...)
				// Bound the scan buffer — the needle is short and near
				// the end of whatever was just printed.
				if len(seen) > 8192 {
					seen = seen[len(seen)-8192:]
				}
				if bytes.Contains(seen, []byte(safetyPromptNeedle)) {
					cancel()
					go m.confirmSafetyPrompt(sess)
					return
				}
			case <-timeout.C:
				cancel()
				return
			case <-sess.Done():
				cancel()
				return
			}
		}
	}()
}

func (m *Manager) confirmSafetyPrompt(sess *Session) {
	select {
	case <-time.After(m.ConfirmMatchDelay):
	case <-sess.Done():
		return
	}
	m.rawWrite(sess, []byte(arrowDown))
	select {
	case <-time.After(m.ConfirmEnterDelay):
	case <-sess.Done():
		return
	}
	m.rawWrite(sess, []byte("\n"))
}
