// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package validate checks inbound message fields before anything is sent.
//
// Checks run in a fixed order and stop at the first failure:
// sender name, sender email, body, then (email channel only) the
// recipient address.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bcem/msgrelay/internal/models"
)

// Wire names of the validated fields, as they appear in the request body.
const (
	FieldName      = "name"
	FieldEmail     = "email"
	FieldMessage   = "message"
	FieldAddressTo = "address_to"
	FieldChatID    = "chatId"
)

// Reason describes why a field was rejected.
type Reason int

const (
	Missing Reason = iota + 1
	Malformed
)

// FieldError names the first field that failed validation.
type FieldError struct {
	Field  string
	Reason Reason
}

func (e *FieldError) Error() string {
	if e.Reason == Malformed {
		switch e.Field {
		case FieldEmail:
			return "Invalid email address"
		case FieldAddressTo:
			return "Invalid recipient email address"
		}
		return fmt.Sprintf("Invalid field: %s", e.Field)
	}
	return fmt.Sprintf("Missing required field: %s", e.Field)
}

// IsFieldError reports whether err is (or wraps) a *FieldError.
func IsFieldError(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}

// Message validates raw fields for the given channel and returns a
// well-formed InboundMessage. The subject defaults to models.DefaultSubject.
func Message(raw models.RawFields, ch models.Channel) (models.InboundMessage, error) {
	if strings.TrimSpace(raw.Name) == "" {
		return models.InboundMessage{}, &FieldError{Field: FieldName, Reason: Missing}
	}

	email := strings.TrimSpace(raw.Email)
	if email == "" {
		return models.InboundMessage{}, &FieldError{Field: FieldEmail, Reason: Missing}
	}
	if !LooksLikeEmail(email) {
		return models.InboundMessage{}, &FieldError{Field: FieldEmail, Reason: Malformed}
	}

	if strings.TrimSpace(raw.Message) == "" {
		return models.InboundMessage{}, &FieldError{Field: FieldMessage, Reason: Missing}
	}

	msg := models.InboundMessage{
		Channel:     ch,
		SenderName:  raw.Name,
		SenderEmail: email,
		Subject:     raw.Subject,
		Body:        raw.Message,
	}
	if strings.TrimSpace(msg.Subject) == "" {
		msg.Subject = models.DefaultSubject
	}

	switch ch {
	case models.ChannelEmail:
		to := strings.TrimSpace(raw.AddressTo)
		if to == "" {
			return models.InboundMessage{}, &FieldError{Field: FieldAddressTo, Reason: Missing}
		}
		if !LooksLikeEmail(to) {
			return models.InboundMessage{}, &FieldError{Field: FieldAddressTo, Reason: Malformed}
		}
		msg.Destination = to
	case models.ChannelChat:
		msg.Destination = strings.TrimSpace(string(raw.ChatID))
	default:
		return models.InboundMessage{}, fmt.Errorf("unknown channel %q", ch)
	}

	return msg, nil
}

// LooksLikeEmail is the relay's permissive address check: an '@' followed
// somewhere later by a '.'. It does not attempt RFC 5322 validation.
func LooksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	if at < 0 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}
