package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kiroku/internal/storage"
)

// ChannelLogs is notified by a statement trigger after log records are inserted.
const ChannelLogs = "kiroku_logs"

// ErrNoNotifyConn is returned by the LISTEN/NOTIFY methods when the DB was
// created without a notify DSN.
var ErrNoNotifyConn = errors.New("storage: notify connection not configured")

var _ storage.LogNotifier = (*DB)(nil)

// Listen starts listening on the specified channel using the dedicated notify connection.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return ErrNoNotifyConn
	}
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	_, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened channel.
// Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", ErrNoNotifyConn
	}
	db.notifyMu.Lock()
	defer db.notifyMu.Unlock()
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// Notify sends a notification on the specified channel.
func (db *DB) Notify(ctx context.Context, channel, payload string) error {
	_, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
	if err != nil {
		return fmt.Errorf("storage: notify %s: %w", channel, err)
	}
	return nil
}

// WaitForLogs implements storage.LogNotifier. The first call subscribes to
// ChannelLogs. Without a notify connection it returns ErrNoNotifyConn and the
// caller falls back to polling.
func (db *DB) WaitForLogs(ctx context.Context) error {
	if db.notifyConn == nil {
		return ErrNoNotifyConn
	}
	db.notifyMu.Lock()
	subscribed := db.listening
	db.notifyMu.Unlock()
	if !subscribed {
		if err := db.Listen(ctx, ChannelLogs); err != nil {
			return err
		}
		db.notifyMu.Lock()
		db.listening = true
		db.notifyMu.Unlock()
	}
	for {
		channel, _, err := db.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if channel == ChannelLogs {
			return nil
		}
	}
}
