package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// TelegramUser is the user object embedded in Mini App init data.
type TelegramUser struct {
	ID        string
	Username  *string
	FirstName *string
	LastName  *string
}

type telegramUserJSON struct {
	ID        json.Number `json:"id"`
	Username  string      `json:"username"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
}

// VerifyInitData checks the Telegram Mini App init data signature and
// returns the embedded user. The scheme is the documented one: the secret
// key is HMAC-SHA256("WebAppData", bot token), the signed payload is the
// sorted key=value pairs joined by newlines, hash excluded.
func VerifyInitData(initData, botToken string) (*TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, errors.New("invalid_init_data")
	}
	receivedHash := values.Get("hash")
	if receivedHash == "" {
		return nil, errors.New("missing_hash")
	}
	values.Del("hash")

	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secretMAC := hmac.New(sha256.New, []byte("WebAppData"))
	secretMAC.Write([]byte(botToken))
	secretKey := secretMAC.Sum(nil)

	mac := hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	calculated := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(calculated), []byte(receivedHash)) {
		return nil, errors.New("invalid_hash")
	}

	userRaw := values.Get("user")
	if userRaw == "" {
		return nil, errors.New("missing_user")
	}
	var parsed telegramUserJSON
	if err := json.Unmarshal([]byte(userRaw), &parsed); err != nil {
		return nil, fmt.Errorf("invalid_user: %w", err)
	}
	if parsed.ID.String() == "" {
		return nil, errors.New("missing_user")
	}

	user := &TelegramUser{ID: parsed.ID.String()}
	if parsed.Username != "" {
		user.Username = &parsed.Username
	}
	if parsed.FirstName != "" {
		user.FirstName = &parsed.FirstName
	}
	if parsed.LastName != "" {
		user.LastName = &parsed.LastName
	}
	return user, nil
}
