package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// persistedCookie is the on-disk form of a session cookie. The jar only
// exposes name and value; the server re-validates everything else.
type persistedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SaveCookies writes the backend's session cookies to path so a short-lived
// process (the CLI) can resume the session later. The file is created with
// 0600 since the refresh token is as sensitive as a password.
func (c *Client) SaveCookies(path string) error {
	var cookies []persistedCookie
	for _, ck := range c.jar.Cookies(c.base) {
		cookies = append(cookies, persistedCookie{Name: ck.Name, Value: ck.Value})
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create cookie dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return nil
}

// LoadCookies restores session cookies previously written by SaveCookies.
// A missing file is not an error, it just means no saved session.
func (c *Client) LoadCookies(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []persistedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("decode cookie file: %w", err)
	}

	restored := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		restored = append(restored, &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"})
	}
	c.jar.SetCookies(c.base, restored)
	return nil
}

// ClearCookies drops the session cookies from the jar and removes the saved
// cookie file when path is non-empty.
func (c *Client) ClearCookies(path string) error {
	expired := []*http.Cookie{
		{Name: AccessTokenCookie, Value: "", Path: "/", MaxAge: -1},
		{Name: RefreshTokenCookie, Value: "", Path: "/", MaxAge: -1},
	}
	c.jar.SetCookies(c.base, expired)

	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cookie file: %w", err)
	}
	return nil
}
