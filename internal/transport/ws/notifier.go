package ws

import (
	"github.com/vedran77/pulsesync/internal/service"
	"go.uber.org/zap"
)

// HubNotifier implements service.Notifier using the WebSocket Hub. Notices
// are also logged through next when set.
type HubNotifier struct {
	hub  *Hub
	next service.Notifier
}

var _ service.Notifier = (*HubNotifier)(nil)

func NewHubNotifier(hub *Hub, next service.Notifier) *HubNotifier {
	return &HubNotifier{hub: hub, next: next}
}

func (n *HubNotifier) NotifyNotice(room string, level service.NoticeLevel, message string) {
	if n.next != nil {
		n.next.NotifyNotice(room, level, message)
	}
	evt, err := NewEvent(EventTypeNotice, room, NoticePayload{Level: string(level), Message: message})
	if err != nil {
		n.hub.log.Error("ws_notice_marshal_failed", zap.Error(err))
		return
	}
	n.hub.BroadcastToRoom(room, evt)
}
