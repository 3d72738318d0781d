package authapi

import (
	"time"

	"bidhub/cmd/identity"
)

type signupRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenLoginRequest struct {
	IdentityToken string `json:"identity_token"`
}

type verifyRequest struct {
	Credential string `json:"credential"`
}

type accountResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url"`
	Verified    bool       `json:"verified"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

type sessionResponse struct {
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type authResponse struct {
	Account      accountResponse `json:"account"`
	Session      sessionResponse `json:"session"`
	IsNewAccount bool            `json:"is_new_account,omitempty"`
}

type meResponse struct {
	Account accountResponse `json:"account"`
}

type verifyResponse struct {
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		Verified:    a.Verified,
		CreatedAt:   a.CreatedAt,
		LastLoginAt: a.LastLoginAt,
	}
}
