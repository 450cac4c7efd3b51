package realm

// AuthenticationToken is a credential submitted for authentication.
type AuthenticationToken interface {
	// Principal returns the identity the token claims.
	Principal() any
	// Credentials returns the secret proving the claim.
	Credentials() any
}

// UsernamePasswordToken is a username and password credential.
type UsernamePasswordToken struct {
	Username string
	Password string
}

// NewUsernamePasswordToken returns a token for username and password.
func NewUsernamePasswordToken(username, password string) *UsernamePasswordToken {
	return &UsernamePasswordToken{Username: username, Password: password}
}

func (t *UsernamePasswordToken) Principal() any { return t.Username }

func (t *UsernamePasswordToken) Credentials() any { return t.Password }

// String never includes the password.
func (t *UsernamePasswordToken) String() string {
	return "UsernamePasswordToken{" + t.Username + "}"
}
