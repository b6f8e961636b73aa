package qrverify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rollcall/internal/processor"
)

// Verifier checks HMAC-signed check-in tokens of the form
// v1.<event>.<user>.<expires>.<nonce>.<signature>. A redis SETNX guard
// rejects token reuse across service instances.
type Verifier struct {
	secret    []byte
	rdb       *redis.Client
	replayTTL time.Duration
	now       func() time.Time
}

func New(secret []byte, rdb *redis.Client, replayTTL time.Duration) *Verifier {
	if replayTTL <= 0 {
		replayTTL = 24 * time.Hour
	}
	return &Verifier{
		secret:    secret,
		rdb:       rdb,
		replayTTL: replayTTL,
		now:       time.Now,
	}
}

// Generate mints a token for one user and event, valid until expiresAt.
func (v *Verifier) Generate(eventID, userID int64, expiresAt time.Time) string {
	payload := fmt.Sprintf("v1.%d.%d.%d.%s", eventID, userID, expiresAt.Unix(), uuid.NewString())
	return payload + "." + v.sign(payload)
}

func (v *Verifier) sign(payload string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) ValidateQRCode(ctx context.Context, token string, userID int64) (processor.QRResult, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 6 || parts[0] != "v1" {
		return processor.QRResult{Reason: "malformed token"}, nil
	}

	payload := strings.Join(parts[:5], ".")
	if !hmac.Equal([]byte(v.sign(payload)), []byte(parts[5])) {
		return processor.QRResult{Reason: "signature mismatch"}, nil
	}

	tokenUser, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || tokenUser != userID {
		return processor.QRResult{Reason: "token issued for another user"}, nil
	}

	expires, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || v.now().After(time.Unix(expires, 0)) {
		return processor.QRResult{Reason: "token expired"}, nil
	}

	nonce := parts[4]
	fresh, err := v.rdb.SetNX(ctx, "qr:nonce:"+nonce, 1, v.replayTTL).Result()
	if err != nil {
		return processor.QRResult{}, fmt.Errorf("replay guard: %w", err)
	}
	if !fresh {
		return processor.QRResult{Reason: "token already used"}, nil
	}

	return processor.QRResult{IsValid: true}, nil
}
