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

package format

import (
	"fmt"
	"strings"

	"github.com/bcem/msgrelay/internal/models"
)

// ParseModeMarkdownV2 is the Telegram parse mode the chat text is written for.
const ParseModeMarkdownV2 = "MarkdownV2"

// markdownSpecial lists the characters MarkdownV2 requires to be escaped.
const markdownSpecial = "_*[]()~`>#+-=|{}.!"

// ChatPayload is what the chat transport submits.
type ChatPayload struct {
	ChatID    string
	Text      string
	ParseMode string
}

const chatText = `You have received a new message from [%s](%s/):

    *Name:* %s
    *Email:* %s
    *Subject:* %s

*Message:*
%s
`

// Chat renders msg for the chat channel, addressed to chatID.
func Chat(msg models.InboundMessage, requestURL, chatID string) ChatPayload {
	u := EscapeMarkdown(requestURL)
	return ChatPayload{
		ChatID: chatID,
		Text: fmt.Sprintf(chatText,
			u, u,
			EscapeMarkdown(msg.SenderName),
			EscapeMarkdown(msg.SenderEmail),
			EscapeMarkdown(msg.Subject),
			EscapeMarkdown(msg.Body),
		),
		ParseMode: ParseModeMarkdownV2,
	}
}

// EscapeMarkdown prefixes every MarkdownV2 special character with a
// backslash. Apply it to a single field, never to assembled markup.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownSpecial, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
