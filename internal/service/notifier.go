package service

import "go.uber.org/zap"

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warning"
	NoticeError NoticeLevel = "error"
)

// Notifier shows transient, user-visible notices (toasts).
type Notifier interface {
	NotifyNotice(room string, level NoticeLevel, message string)
}

// TypingPublisher stops this client's outgoing typing indicator.
type TypingPublisher interface {
	StopTyping(room string)
}

// LogNotifier writes notices to the log. It is the default when no UI is
// attached.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) NotifyNotice(room string, level NoticeLevel, message string) {
	if n.Log == nil {
		return
	}
	fields := []zap.Field{zap.String("room", room), zap.String("level", string(level))}
	switch level {
	case NoticeError:
		n.Log.Error(message, fields...)
	case NoticeWarn:
		n.Log.Warn(message, fields...)
	default:
		n.Log.Info(message, fields...)
	}
}
