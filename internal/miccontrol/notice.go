package miccontrol

import (
	"fmt"
	"log/slog"
)

type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeError
)

func (k NoticeKind) String() string {
	if k == NoticeError {
		return "error"
	}
	return "info"
}

// Notice is a user-facing message. Code is stable and meant for programs,
// Message is meant for people.
type Notice struct {
	Kind    NoticeKind
	Code    string
	Message string
}

func (n Notice) String() string {
	return fmt.Sprintf("[%s] %s", n.Kind, n.Message)
}

const (
	CodeRequested      = "requested"
	CodeLeft           = "left"
	CodeApproved       = "approved"
	CodeKicked         = "kicked"
	CodeMuted          = "muted"
	CodeUnmuted        = "unmuted"
	CodeForbidden      = "forbidden"
	CodeWriteFailed    = "write_failed"
	CodeAdminFailed    = "admin_failed"
	CodeAdminDone      = "admin_done"
	CodeRepairing      = "repairing"
	CodeRepaired       = "repaired"
	CodeRepairFailed   = "repair_failed"
	CodeSettingsFailed = "settings_failed"
)

// notify never blocks the engine. Notices are dropped while nobody reads them.
func (e *Engine) notify(kind NoticeKind, code, message string) {
	notice := Notice{Kind: kind, Code: code, Message: message}
	select {
	case e.notices <- notice:
	default:
		e.logger.Debug("notice dropped", slog.String("code", code), slog.String("message", message))
	}
}

func (e *Engine) info(code, message string) {
	e.notify(NoticeInfo, code, message)
}

func (e *Engine) fail(code, message string) {
	e.notify(NoticeError, code, message)
}
