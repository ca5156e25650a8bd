package model

// IdPUser is a user record as returned by the identity provider
type IdPUser struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	FirstName   string  `json:"first_name"`
	LastName    string  `json:"last_name"`
	DisplayName string  `json:"display_name"`
	ManagerID   *string `json:"manager_id"`
	Status      string  `json:"status"`
}

// IsActive says if the IdP considers the user active
func (u *IdPUser) IsActive() bool {
	return u.Status == "ACTIVE" || u.Status == "PROVISIONED"
}

// IdPGroup is a group record as returned by the identity provider
type IdPGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
