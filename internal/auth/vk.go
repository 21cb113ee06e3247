package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// VerifyLaunchParams checks the VK Mini App launch signature and returns
// the vk_* parameters. The signed payload is the vk_* params sorted by key
// and joined as a query string, hashed with the app secret appended.
func VerifyLaunchParams(launchParams, appSecret string) (map[string]string, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(launchParams, "?"))
	if err != nil {
		return nil, errors.New("invalid_launch_params")
	}
	sign := values.Get("sign")
	if sign == "" {
		return nil, errors.New("missing_sign")
	}

	vkParams := make(map[string]string)
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, "vk_") {
			vkParams[key] = values.Get(key)
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+vkParams[key])
	}
	query := strings.Join(parts, "&")

	sum := sha256.Sum256([]byte(query + appSecret))
	digest := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(sign)) != 1 {
		return nil, errors.New("invalid_sign")
	}
	return vkParams, nil
}
