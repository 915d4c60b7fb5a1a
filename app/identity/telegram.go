// Package identity resolves the Telegram user a Mini App session runs for.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/miniapp-chat/pkg/entities"
)

var (
	ErrNoUser       = errors.New("init data carries no user")
	ErrBadSignature = errors.New("init data signature mismatch")
	ErrExpired      = errors.New("init data is too old")
)

// webAppUser is the "user" field of Web App init data.
type webAppUser struct {
	tgbotapi.User
	PhotoURL string `json:"photo_url"`
}

// ParseInitData extracts the user identity from a Web App init-data string.
// The signature is not checked, see Validate.
func ParseInitData(initData string) (e.Identity, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return e.Identity{}, fmt.Errorf("parsing init data: %w", err)
	}

	raw := values.Get("user")
	if raw == "" {
		return e.Identity{}, ErrNoUser
	}

	var user webAppUser
	if err = json.Unmarshal([]byte(raw), &user); err != nil {
		return e.Identity{}, fmt.Errorf("decoding init data user: %w", err)
	}

	if user.ID == 0 {
		return e.Identity{}, ErrNoUser
	}

	return e.Identity{
		ID:       UserID(&user.User),
		Name:     DisplayName(&user.User),
		Avatar:   user.PhotoURL,
		InitData: initData,
	}, nil
}

// Validate checks the init-data hash against the bot token. maxAge of zero
// disables the auth_date freshness check.
func Validate(botToken, initData string, maxAge time.Duration, now time.Time) error {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return fmt.Errorf("parsing init data: %w", err)
	}

	got, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(got) == 0 {
		return ErrBadSignature
	}

	if !hmac.Equal(got, sign(botToken, values)) {
		return ErrBadSignature
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing auth_date: %w", err)
		}
		if now.Sub(time.Unix(authDate, 0)) > maxAge {
			return ErrExpired
		}
	}

	return nil
}

// sign computes the Web App data hash: HMAC-SHA256 of the sorted
// "key=value" lines (hash excluded) keyed by HMAC-SHA256("WebAppData", token).
func sign(botToken string, values url.Values) []byte {
	lines := make([]string, 0, len(values))
	for k, v := range values {
		if k == "hash" || len(v) == 0 {
			continue
		}
		lines = append(lines, k+"="+v[0])
	}
	sort.Strings(lines)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))

	return mac.Sum(nil)
}

// UserID is the session user key of a Telegram user.
func UserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

// DisplayName is "First Last", falling back to "@username" and then to the
// numeric id.
func DisplayName(user *tgbotapi.User) string {
	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if sb.Len() == 0 && user.UserName != "" {
		sb.WriteRune('@')
		sb.WriteString(user.UserName)
	}

	if sb.Len() == 0 {
		return UserID(user)
	}

	return sb.String()
}
