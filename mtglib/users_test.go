package mtglib

import (
	"bytes"
	"testing"
)

func TestUserManagerUserPreservesAdTag(t *testing.T) {
	adTag := []byte{0xde, 0xad, 0xbe, 0xef}

	manager, err := NewUserManager([]User{
		{Name: "direct"},
		{Name: "affiliate", AdTag: adTag},
	})
	if err != nil {
		t.Fatalf("NewUserManager: %v", err)
	}

	if got := manager.User(0).AdTag; got != nil {
		t.Errorf("User(0).AdTag = %x, want nil", got)
	}

	if got := manager.User(1).AdTag; !bytes.Equal(got, adTag) {
		t.Errorf("User(1).AdTag = %x, want %x", got, adTag)
	}
}
