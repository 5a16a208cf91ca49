package identity

import (
	"fmt"

	"peerchat/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// FromToken extracts the local user from the server-issued auth token. The
// signature is the server's business; the client only reads the claims to
// know who it is.
func FromToken(token string) (domain.UserRef, error) {
	if token == "" {
		return domain.UserRef{}, fmt.Errorf("auth token is empty")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.UserRef{}, fmt.Errorf("failed to parse auth token: %w", err)
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		// some deployments put the user id in the subject claim
		userID, _ = claims["sub"].(string)
	}
	if userID == "" {
		return domain.UserRef{}, fmt.Errorf("auth token carries no user id")
	}

	username, _ := claims["username"].(string)
	profileImage, _ := claims["profile_image"].(string)

	return domain.UserRef{
		ID:           domain.UserID(userID),
		Username:     username,
		ProfileImage: profileImage,
	}, nil
}
