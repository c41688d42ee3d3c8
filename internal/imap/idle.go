package imap

import (
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// WaitForUpdate idles on the given folder until the server pushes a mailbox
// update, maxWait elapses, or ctx is canceled. Returns true when an update
// arrived. Servers without IDLE are polled via the fallback built into the
// idle client.
func (s *Session) WaitForUpdate(ctx context.Context, path string, maxWait time.Duration) (bool, error) {
	var updated bool

	err := s.do(ctx, StateIdle, func(c *client.Client) error {
		if _, err := s.selectLocked(c, path); err != nil {
			return err
		}

		updates := make(chan client.Update, 8)
		c.Updates = updates
		defer func() { c.Updates = nil }()

		idleClient := idle.NewClient(c)

		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- idleClient.IdleWithFallback(stop, 0)
		}()

		timer := time.NewTimer(maxWait)
		defer timer.Stop()

		stopped := false
		stopIdle := func() {
			if !stopped {
				close(stop)
				stopped = true
			}
		}

		for {
			select {
			case <-ctx.Done():
				stopIdle()
				<-done
				return ctx.Err()
			case <-timer.C:
				stopIdle()
				<-done
				return nil
			case update := <-updates:
				if _, ok := update.(*client.MailboxUpdate); ok {
					updated = true
					stopIdle()
					<-done
					return nil
				}
			case err := <-done:
				return err
			}
		}
	})

	return updated, err
}
