package refcode

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// CodeLength is the length of shareable referral codes.
const CodeLength = 8

// maxUnbiased is the largest multiple of len(alphabet) below 256; bytes at
// or above it are discarded so every character stays uniformly distributed.
const maxUnbiased = 256 - 256%len(alphabet)

// NewCode returns a random 8-character alphanumeric referral code. Codes are
// not unique by construction; callers must rely on the store's unique
// constraint and retry on collision.
func NewCode() string {
	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return fallbackCode()
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			code = append(code, alphabet[int(b)%len(alphabet)])
			if len(code) == CodeLength {
				break
			}
		}
	}
	return string(code)
}

func fallbackCode() string {
	nano := fmt.Sprintf("%d", time.Now().UnixNano())
	code := make([]byte, CodeLength)
	for i := 0; i < CodeLength; i++ {
		code[i] = alphabet[int(nano[len(nano)-1-i]-'0')%len(alphabet)]
	}
	return string(code)
}

// NewID returns an opaque entity id with the given prefix.
func NewID(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Link builds the shareable signup URL that attributes new users to the
// given referral code.
func Link(baseURL string, code string) string {
	return fmt.Sprintf("%s?ref=%s", baseURL, url.QueryEscape(code))
}

// QRCode renders the referral link as a PNG image.
func QRCode(baseURL string, code string) ([]byte, error) {
	link := Link(baseURL, code)
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode referral qr: %w", err)
	}
	return png, nil
}
