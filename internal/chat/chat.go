// Package chat defines what a bot needs from a chat platform.
package chat

import (
	"context"
	"fmt"

	"github.com/web3-frozen/oraclebot/internal/presence"
)

// Update kinds, used in errors and metrics labels.
const (
	KindPresence = "presence"
	KindLabel    = "label"
	KindProfile  = "profile"
)

// Client is a platform session for one bot token.
type Client interface {
	// Authenticate verifies the token and opens whatever session the
	// platform needs for presence updates.
	Authenticate(ctx context.Context) error
	// SetPresence shows a short status line.
	SetPresence(ctx context.Context, text string) error
	// SetIdentityLabel sets the bot's visible name, the nickname in its
	// guild on Discord.
	SetIdentityLabel(ctx context.Context, label string) error
	// SetProfile sets the account username and avatar. A nil avatar leaves
	// it unchanged.
	SetProfile(ctx context.Context, username string, avatar []byte) error
	Limits() presence.Limits
	Close() error
}

// AuthError is returned when a platform rejects a bot's credential or the
// session could not be established.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PresenceUpdateError is returned when a presence, label or profile push
// fails.
type PresenceUpdateError struct {
	Platform string
	Kind     string
	Status   int
	Err      error
}

func (e *PresenceUpdateError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s update (status %d): %v", e.Platform, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s update: %v", e.Platform, e.Kind, e.Err)
}

func (e *PresenceUpdateError) Unwrap() error { return e.Err }
