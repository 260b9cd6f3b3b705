package models

// Session identifies the caller on every backend call. It is passed explicitly,
// never read from ambient state.
type Session struct {
	BusinessId string `json:"business_id"`
	Token      string `json:"-"`
	UserId     int    `json:"user_id"`
}
