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

package smtp

import (
	"context"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// OAuthConfig identifies the OAuth2 client and the long-lived refresh token
// granted for the sending mailbox.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
}

// TokenSource returns a caching token source that refreshes access tokens
// from the refresh token as they expire.
func TokenSource(ctx context.Context, cfg OAuthConfig) oauth2.TokenSource {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
}
