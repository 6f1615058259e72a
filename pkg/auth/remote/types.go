package remote

import "github.com/rhuss/principal/pkg/auth"

// checkTokenRequest is the JSON body posted to the check-token endpoint.
type checkTokenRequest struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

// CheckTokenResponse is the authority's reply. Data is only meaningful
// when Success is true.
type CheckTokenResponse struct {
	Success bool       `json:"success"`
	Data    *auth.User `json:"data"`
	Message string     `json:"message,omitempty"`
}
