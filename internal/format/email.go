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

// Package format renders validated messages into channel payloads.
//
// Every field of an InboundMessage is attacker-controlled. The email HTML
// body is produced with html/template so each field is escaped on
// interpolation; the chat text escapes each field for Telegram MarkdownV2
// before it is placed into the template.
package format

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/bcem/msgrelay/internal/models"
)

// EmailPayload is what the email transport submits.
type EmailPayload struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

var emailHTML = template.Must(template.New("email").Parse(`<p>You have received a new message from <strong>{{.SenderName}}</strong> (<strong>{{.SenderEmail}}</strong>):</p>
<div style="border: 1px solid #ccc; padding: 10px; margin: 10px 0;">
    <p><strong>Subject:</strong> {{.Subject}}</p>
    <p>{{.Body}}</p>
</div>
<p>Best regards,<br>Admin</p>
<p>This email is auto-generated. Please do NOT reply.</p>
`))

const emailText = "You have received a new message from %s (%s):\n\nSubject: %s\n\n%s\n\nBest regards,\nAdmin"

// Email renders msg for the email channel. from is the relay's configured
// sender identity; the user's address only ever appears in the body.
func Email(msg models.InboundMessage, requestURL, from string) (EmailPayload, error) {
	var html bytes.Buffer
	if err := emailHTML.Execute(&html, msg); err != nil {
		return EmailPayload{}, fmt.Errorf("render email html: %w", err)
	}

	return EmailPayload{
		From:    from,
		To:      msg.Destination,
		Subject: "New Message from " + singleLine(requestURL),
		Text:    fmt.Sprintf(emailText, msg.SenderName, msg.SenderEmail, msg.Subject, msg.Body),
		HTML:    html.String(),
	}, nil
}

// singleLine drops CR and LF so a value is safe in a header.
func singleLine(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, s)
}
