package session

import (
	"bytes"
	"time"
)

// readyGlyph is the multi-byte prompt marker the assistant prints once
// its interactive UI has taken over the terminal.
const readyGlyph = "▸" // U+25B8

// WaitForAssistantReady subscribes to a session's PTY output for up to
// timeout and applies two independent, racing success conditions: the
// prompt glyph appears, or the stream goes quiet for ReadyQuietWindow
// after having produced at least some output. Output during the first
// ReadySettleIgnore is treated as shell-prompt noise and does not feed
// either condition (but does count toward "any activity observed" for
// the timeout fallback). Session termination unblocks the wait
// immediately.
func (m *Manager) WaitForAssistantReady(id string, timeout time.Duration) (bool, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return false, err
	}

	ch, cancel := sess.out.subscribe()
	defer cancel()

	overall := time.NewTimer(timeout)
	defer overall.Stop()

	ignore := time.NewTimer(m.ReadySettleIgnore)
	defer ignore.Stop()

	var quiet *time.Timer
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()

	var anySeen bool
	var seenAfterIgnore bool
	var ignorePassed bool
	var buf []byte

	for {
		var quietCh <-chan time.Time
		if quiet != nil {
			quietCh = quiet.C
		}

		select {
		case data, ok := <-ch:
			if !ok {
				return false, ErrSessionGone
			}
			anySeen = true
			if !ignorePassed {
				continue
			}
			seenAfterIgnore = true
			buf = append(buf, data...)
			if len(buf) > 4096 {
				buf = buf[len(buf)-4096:]
			}
			if bytes.Contains(buf, []byte(readyGlyph)) {
				sess.setState(StateReady)
				return true, nil
			}
			if quiet != nil {
				quiet.Stop()
			}
			quiet = time.NewTimer(m.ReadyQuietWindow)

		case <-ignore.C:
			ignorePassed = true
			quiet = time.NewTimer(m.ReadyQuietWindow)

		case <-quietCh:
			if seenAfterIgnore {
				sess.setState(StateReady)
				return true, nil
			}

		case <-overall.C:
			if anySeen {
				sess.setState(StateReadyUncertain)
			}
			return anySeen, nil

		case <-sess.Done():
			return false, ErrSessionGone
		}
	}
}
