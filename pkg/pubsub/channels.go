package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming follows {prefix}:{scope}:{id}:to_{target}.
const (
	// ChannelUserNotify carries user-scoped notifications to every gateway
	// instance holding a connection for that user.
	ChannelUserNotify = "notify:user:%s:to_gateway"

	// PatternUserNotify matches every user notification channel.
	PatternUserNotify = "notify:user:*:to_gateway"
)

// Event types carried on the notification channels.
const (
	EventUserNotification = "user_notification"
)

// UserNotifyChannel returns the notification channel for a user.
func UserNotifyChannel(userID string) string {
	return fmt.Sprintf(ChannelUserNotify, userID)
}

// ParseChannel splits a channel name into its parts.
//
//	"notify:user:U1:to_gateway" → prefix "notify", scope "user", id "U1", target "gateway"
func ParseChannel(channel string) (prefix, scope, id, target string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || !strings.HasPrefix(parts[3], "to_") || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0], parts[1], parts[2], strings.TrimPrefix(parts[3], "to_"), nil
}
