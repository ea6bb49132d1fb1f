package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest text a single message may carry.
const MaxMessageLength = 4000

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return strings.Join(parts, "; ")
}

// ValidateSend checks a compose action. An empty action is reported under
// "message"; callers treat it as a silent no-op.
func ValidateSend(text string, attachments, maxAttachments int) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" && attachments == 0 {
		errs.Add("message", "Nothing to send")
		return errs
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("message_text", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
	}
	if maxAttachments > 0 && attachments > maxAttachments {
		errs.Add("attachments", fmt.Sprintf("You can send up to %d images and files at a time", maxAttachments))
	}

	return errs
}

func ValidateEdit(text string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("message_text", "Message text is required")
	} else if utf8.RuneCountInString(text) > MaxMessageLength {
		errs.Add("message_text", fmt.Sprintf("Message must be at most %d characters", MaxMessageLength))
	}

	return errs
}

func ValidateRoomCode(code string) ValidationErrors {
	errs := make(ValidationErrors)

	code = strings.TrimSpace(code)
	if code == "" {
		errs.Add("room", "Room code is required")
	} else if len(code) > 100 {
		errs.Add("room", "Room code is too long")
	}

	return errs
}
