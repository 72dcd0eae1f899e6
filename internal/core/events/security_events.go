package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeRefreshReplay   = "token.replay_detected"
	EventTypeTokenRevoked    = "token.revoked"
	EventTypeSessionsRevoked = "user.sessions_revoked"
	EventTypeLoginFailed     = "auth.login_failed"
)

// RefreshReplayEvent is raised when a rotated or revoked refresh token is
// presented again.
type RefreshReplayEvent struct {
	BaseEvent
	TokenID string `json:"token_id"`
	UserID  string `json:"user_id"`
}

func NewRefreshReplayEvent(tokenID, userID string, at time.Time) *RefreshReplayEvent {
	return &RefreshReplayEvent{
		BaseEvent: newBase(EventTypeRefreshReplay, at, map[string]interface{}{
			"token_id": tokenID,
			"user_id":  userID,
		}),
		TokenID: tokenID,
		UserID:  userID,
	}
}

type TokenRevokedEvent struct {
	BaseEvent
	TokenID string `json:"token_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

func NewTokenRevokedEvent(tokenID, userID, reason string, at time.Time) *TokenRevokedEvent {
	return &TokenRevokedEvent{
		BaseEvent: newBase(EventTypeTokenRevoked, at, map[string]interface{}{
			"token_id": tokenID,
			"user_id":  userID,
			"reason":   reason,
		}),
		TokenID: tokenID,
		UserID:  userID,
		Reason:  reason,
	}
}

type SessionsRevokedEvent struct {
	BaseEvent
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
	Revoked int64  `json:"revoked"`
}

func NewSessionsRevokedEvent(userID, reason string, revoked int64, at time.Time) *SessionsRevokedEvent {
	return &SessionsRevokedEvent{
		BaseEvent: newBase(EventTypeSessionsRevoked, at, map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
			"revoked": revoked,
		}),
		UserID:  userID,
		Reason:  reason,
		Revoked: revoked,
	}
}

// LoginFailedEvent deliberately carries only the attempted username.
type LoginFailedEvent struct {
	BaseEvent
	Username string `json:"username"`
}

func NewLoginFailedEvent(username string, at time.Time) *LoginFailedEvent {
	return &LoginFailedEvent{
		BaseEvent: newBase(EventTypeLoginFailed, at, map[string]interface{}{
			"username": username,
		}),
		Username: username,
	}
}

func newBase(eventType string, at time.Time, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at,
		Data:      data,
	}
}
