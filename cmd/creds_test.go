package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/tani-shi/assetbundle-manager/pkg/credman/keyring"
)

type fakeCredStore struct {
	logins map[string][2]string
	err    error
}

func (f *fakeCredStore) Set(host, user, password string) error {
	if f.err != nil {
		return f.err
	}
	f.logins[host] = [2]string{user, password}
	return nil
}

func (f *fakeCredStore) Delete(host string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.logins[host]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.logins, host)
	return nil
}

func withFakeCredStore(t *testing.T) *fakeCredStore {
	t.Helper()
	fake := &fakeCredStore{logins: make(map[string][2]string)}
	saved := newCredStore
	newCredStore = func() credStore { return fake }
	t.Cleanup(func() { newCredStore = saved })
	return fake
}

func TestCredsCommands(t *testing.T) {
	fake := withFakeCredStore(t)
	err := Execute([]string{"abm", "creds", "set", "--password", "hunter2", "cdn.example.com", "deploy"}, BuildArgs{})
	if err != nil {
		t.Fatalf("creds set: %v", err)
	}
	if got := fake.logins["cdn.example.com"]; got != [2]string{"deploy", "hunter2"} {
		t.Errorf("stored login = %v", got)
	}
	if err := Execute([]string{"abm", "creds", "delete", "cdn.example.com"}, BuildArgs{}); err != nil {
		t.Fatalf("creds delete: %v", err)
	}
	if len(fake.logins) != 0 {
		t.Errorf("login should be deleted: %v", fake.logins)
	}
	// deleting twice is not an error
	if err := Execute([]string{"abm", "creds", "delete", "cdn.example.com"}, BuildArgs{}); err != nil {
		t.Errorf("creds delete of a missing login: %v", err)
	}

	fake.err = errors.New("keyring locked")
	err = Execute([]string{"abm", "creds", "set", "--password", "x", "cdn.example.com", "deploy"}, BuildArgs{})
	if err == nil || !strings.Contains(err.Error(), "keyring locked") {
		t.Errorf("expected the keyring error, got %v", err)
	}
}

func TestReadPassword(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hunter2\n", "hunter2"},
		{"hunter2\r\n", "hunter2"},
		{"no newline", "no newline"},
		{"first\nsecond\n", "first"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := readPassword(strings.NewReader(tt.in))
		if err != nil {
			t.Errorf("readPassword(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("readPassword(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
