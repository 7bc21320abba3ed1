package authapi

import "time"

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type userMessageResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

type meResponse struct {
	User userResponse `json:"user"`
}
