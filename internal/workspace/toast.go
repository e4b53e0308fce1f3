package workspace

import (
	"errors"
	"time"

	"workboard/api/internal/board"
	"workboard/api/internal/gateway"
)

const (
	msgPeriodCreated  = "✅ Period created."
	msgEndBeforeStart = "❌ The end date is earlier than the start date."
	msgInvalidDate    = "❌ Dates must be YYYY-MM-DD."
)

func (s *Store) showToast(msg string) {
	s.update(func() { s.showToastLocked(msg) })
}

// showToastLocked replaces the toast and arms a timer that clears it. The
// timer only clears the toast it was armed for, even if a newer toast carries
// the same text.
func (s *Store) showToastLocked(msg string) {
	s.toastSeq++
	seq := s.toastSeq
	s.toast = msg
	if s.closed {
		return
	}
	s.toastTimer = time.AfterFunc(s.toastDelay, func() { s.clearToast(seq) })
}

func (s *Store) clearToast(seq uint64) {
	s.mu.Lock()
	if seq != s.toastSeq || s.toast == "" {
		s.mu.Unlock()
		return
	}
	s.toast = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// fail reports err through the toast slot and returns it.
func (s *Store) fail(op string, err error) error {
	s.log.WithError(err).Warnw("operation failed", "op", op)
	s.showToast("❌ " + errorMessage(err))
	return err
}

func errorMessage(err error) string {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return statusErr.Message
	}
	return err.Error()
}

func periodErrorMessage(err error) string {
	if errors.Is(err, board.ErrEndBeforeStart) {
		return msgEndBeforeStart
	}
	return msgInvalidDate
}
