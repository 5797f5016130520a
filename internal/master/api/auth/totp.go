package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// TOTPIssuer is the issuer shown in authenticator apps.
const TOTPIssuer = "wpfleet"

// GenerateTOTPSecret creates a new TOTP secret for an account and
// returns the secret plus the otpauth:// provisioning URL. The caller
// seals the secret before persisting it.
func GenerateTOTPSecret(email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyTOTP checks a 6-digit code against the account secret.
func VerifyTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
