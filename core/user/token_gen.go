package user

import "time"

// makeToken generates a password reset token for a given User.
// The token is invalidated as soon as the password or the last login changes.
func (svc *Service) makeToken(usr User) string {
	return svc.tokenGen.Make(tokenValues(usr)...)
}

// verifyToken checks that a password reset token for a given User is valid.
func (svc *Service) verifyToken(usr User, token string) error {
	return svc.tokenGen.Verify(token, tokenValues(usr)...)
}

func tokenValues(usr User) []string {
	vals := []string{usr.ID, string(usr.PasswordHash)}
	if !usr.LastLogin.IsZero() {
		vals = append(vals, usr.LastLogin.UTC().Truncate(time.Second).String())
	}
	return vals
}
