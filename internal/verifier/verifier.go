package verifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"rollcall/internal/repo"
)

// RepoAuthorizer answers capability checks from the user_capabilities table.
type RepoAuthorizer struct {
	repo repo.Repository
}

func NewRepoAuthorizer(r repo.Repository) *RepoAuthorizer {
	return &RepoAuthorizer{repo: r}
}

func (a *RepoAuthorizer) HasPermission(ctx context.Context, userID int64, capability string) (bool, error) {
	return a.repo.HasCapability(ctx, userID, capability)
}

// DeviceBiometric verifies assertions signed by enrolled kiosk devices.
// The device signs its payload with the shared secret; the server only
// checks the signature, the biometric match itself happens on-device.
type DeviceBiometric struct {
	secret []byte
}

func NewDeviceBiometric(secret []byte) *DeviceBiometric {
	return &DeviceBiometric{secret: secret}
}

func (d *DeviceBiometric) Verify(_ context.Context, assertion string) (bool, error) {
	dot := strings.LastIndex(assertion, ".")
	if dot <= 0 || dot == len(assertion)-1 {
		return false, nil
	}
	payload, sig := assertion[:dot], assertion[dot+1:]

	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig)), nil
}
