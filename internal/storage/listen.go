package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// ChangesChannel is the NOTIFY channel the insert triggers publish committed rows on
const ChangesChannel = "table_changes"

// ListenChanges holds one pool connection, LISTENs on ChangesChannel and calls fn with every notification
// payload until ctx is done. The payload is the JSON built by the notify_table_change trigger.
func (s *Store) ListenChanges(ctx context.Context, fn func(payload []byte)) error {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+pgx.Identifier{ChangesChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.logger.Infof("Listening for table changes on %q", ChangesChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		fn([]byte(n.Payload))
	}
}
