// Package keyring stores logins for bundle hosts in the operating
// system's keyring.
package keyring

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

const DefaultService = "assetbundle-manager"

var (
	ErrEmptyHost = errors.New("host cannot be empty")
	// ErrNotFound is returned by Delete for hosts without a stored login.
	ErrNotFound = keyring.ErrNotFound
)

type Keyring struct {
	Service string
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
)

func NewKeyring() *Keyring {
	return &Keyring{Service: DefaultService}
}

// Set stores a login for host, replacing any previous one.
func (k *Keyring) Set(host, user, password string) error {
	host = normalizeHost(host)
	if host == "" {
		return ErrEmptyHost
	}
	if err := keyringSet(k.Service, host, url.UserPassword(user, password).String()); err != nil {
		return fmt.Errorf("store login for %s: %w", host, err)
	}
	return nil
}

// Lookup returns the login stored for host. Keyring failures are
// reported as a miss.
func (k *Keyring) Lookup(host string) (user, password string, ok bool) {
	secret, err := keyringGet(k.Service, normalizeHost(host))
	if err != nil {
		return "", "", false
	}
	parsed, err := url.Parse("//" + secret + "@host")
	if err != nil || parsed.User == nil {
		return "", "", false
	}
	password, _ = parsed.User.Password()
	return parsed.User.Username(), password, true
}

// Delete removes the login for host. Deleting an unknown host returns
// keyring.ErrNotFound.
func (k *Keyring) Delete(host string) error {
	return keyringDelete(k.Service, normalizeHost(host))
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
