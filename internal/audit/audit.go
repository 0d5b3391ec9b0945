package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/call-service/pkg/log"
)

// Audited actions. Call actions target a room, chat actions a conversation.
const (
	ActionAuth        = "call.auth"
	ActionAuthFailed  = "call.auth_failed"
	ActionJoin        = "call.join"
	ActionHangup      = "call.hangup"
	ActionDisconnect  = "call.disconnect"
	ActionSendMessage = "chat.send_message"
	ActionMarkRead    = "chat.mark_read"
)

const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

func entry(ctx context.Context, action, userID string) *zerolog.Event {
	l := log.Ctx(ctx)
	return l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID)
}

// Log records that userID performed action.
func Log(ctx context.Context, action, userID, msg string) {
	entry(ctx, action, userID).Msg(msg)
}

// LogWithTarget records an action on a room or conversation.
func LogWithTarget(ctx context.Context, action, userID, targetID, msg string) {
	entry(ctx, action, userID).Str(FieldTargetID, targetID).Msg(msg)
}

func LogWithDetail(ctx context.Context, action, userID, detail, msg string) {
	entry(ctx, action, userID).Str(FieldDetail, detail).Msg(msg)
}
