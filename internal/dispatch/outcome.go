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

package dispatch

import (
	"time"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/models"
)

// Kind classifies the terminal result of a relay request.
type Kind int

const (
	Sent Kind = iota + 1
	TransportFailure
	ValidationFailure
	AdmissionRejected
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Sent:
		return "sent"
	case TransportFailure:
		return "transport_failure"
	case ValidationFailure:
		return "validation_failure"
	case AdmissionRejected:
		return "admission_rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Caller-facing details. Limiter rejections share one message; which
// limiter fired is only logged.
const (
	DetailOriginRejected = "Referer not allowed"
	DetailRateLimited    = "Too many requests, please try again later"
	DetailTimedOut       = "Request timed out"
)

// Outcome is produced once per request and not modified afterwards.
//
// Detail is safe to return to the caller. Err carries the underlying cause
// (validation or transport) and is for server-side logs only.
type Outcome struct {
	Kind       Kind
	Channel    models.Channel
	Detail     string
	Decision   admission.Decision
	RetryAfter time.Duration
	Err        error
	RequestURL string
	At         time.Time
}

// Rejected builds the outcome for a guard rejection.
func Rejected(ch models.Channel, v admission.Verdict, requestURL string) Outcome {
	detail := DetailRateLimited
	if v.Decision == admission.RejectedOrigin {
		detail = DetailOriginRejected
	}
	return Outcome{
		Kind:       AdmissionRejected,
		Channel:    ch,
		Detail:     detail,
		Decision:   v.Decision,
		RetryAfter: v.RetryAfter,
		RequestURL: requestURL,
		At:         time.Now().UTC(),
	}
}

// Invalid builds the outcome for a validation failure.
func Invalid(ch models.Channel, err error, requestURL string) Outcome {
	return Outcome{
		Kind:       ValidationFailure,
		Channel:    ch,
		Detail:     err.Error(),
		Err:        err,
		RequestURL: requestURL,
		At:         time.Now().UTC(),
	}
}
