package domain

// User is the identity and display data of a call party
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayLabel returns the best human-facing label for the user
func (u User) DisplayLabel() string {
	if u.Name != "" {
		return u.Name
	}
	if u.ID != "" {
		return u.ID
	}
	return "Unknown caller"
}
