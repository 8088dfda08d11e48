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

// Package models defines the data structures shared across the relay.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Channel identifies a delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "telegram"
)

// DefaultSubject replaces an absent or empty subject.
const DefaultSubject = "(No Subject)"

// RawFields is the inbound JSON body accepted by both message routes.
// Fields are taken as-is; nothing here is trusted.
type RawFields struct {
	Subject   string `json:"subject"`
	Email     string `json:"email"`
	Message   string `json:"message"`
	Name      string `json:"name"`
	AddressTo string `json:"address_to"`
	ChatID    ChatID `json:"chatId"`
}

// InboundMessage is a validated message ready for formatting.
//
// Subject is never empty. Destination is the recipient address on the
// email channel and the target chat on the chat channel; for chat it may be
// empty, in which case the configured default chat applies.
type InboundMessage struct {
	Channel     Channel
	SenderName  string
	SenderEmail string
	Subject     string
	Body        string
	Destination string
}

// ChatID is a Telegram chat identifier. Clients send it either as a JSON
// string ("@channel", "-100123") or as a bare integer.
type ChatID string

// UnmarshalJSON accepts a string, an integer or null.
func (c *ChatID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ChatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("chatId must be a string or integer: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("chatId must be an integer, got %s", n)
	}
	*c = ChatID(n.String())
	return nil
}
