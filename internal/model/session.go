package model

// Session is the identity provider's live authentication state.
// The zero value means no signed-in principal.
type Session struct {
	UserID    string `json:"user_id,omitempty"`
	Anonymous bool   `json:"anonymous"`
	Email     string `json:"email,omitempty"`
}

// NoSession is the empty session.
var NoSession = Session{}

// Present reports whether a principal is signed in.
func (s Session) Present() bool {
	return s.UserID != ""
}
