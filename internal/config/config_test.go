package config

import (
	"bytes"
	"testing"
	"time"
)

func TestBuildUsersParsesAdTag(t *testing.T) {
	conf := &Config{
		Users: []UserConfig{
			{Name: "direct", Secret: "00000000000000000000000000000001"},
			{Name: "affiliate", Secret: "00000000000000000000000000000002", AdTag: "deadbeef"},
		},
	}

	users, err := conf.BuildUsers()
	if err != nil {
		t.Fatalf("BuildUsers: %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2", len(users))
	}

	if users[0].AdTag != nil {
		t.Errorf("users[0].AdTag = %x, want nil", users[0].AdTag)
	}

	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if !bytes.Equal(users[1].AdTag, want) {
		t.Errorf("users[1].AdTag = %x, want %x", users[1].AdTag, want)
	}
}

func TestBuildUsersRejectsInvalidAdTag(t *testing.T) {
	conf := &Config{
		Users: []UserConfig{
			{Name: "bad", Secret: "00000000000000000000000000000001", AdTag: "not-hex"},
		},
	}

	if _, err := conf.BuildUsers(); err == nil {
		t.Fatal("BuildUsers: expected error for invalid adTag, got nil")
	}
}

func TestMiddleProxyRefreshDefaultsToDisabled(t *testing.T) {
	var conf Config

	if conf.Maintenance.MiddleProxyRefresh.Enabled.Get(false) {
		t.Error("MiddleProxyRefresh.Enabled.Get(false) = true, want false by default")
	}
}

func TestMiddleProxyRefreshPeriodFallsBackToDefault(t *testing.T) {
	var conf Config

	want := 24 * time.Hour

	if got := conf.Maintenance.MiddleProxyRefresh.Period.Get(want); got != want {
		t.Errorf("Period.Get(%v) = %v, want %v", want, got, want)
	}
}
