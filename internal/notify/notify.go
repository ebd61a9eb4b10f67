// Package notify announces daily simulation reports to chat platforms.
package notify

import "context"

// Notifier delivers a daily report announcement.
type Notifier interface {
	Platform() string
	Announce(ctx context.Context, dayLabel, summary string) error
}
