package auth

import (
	"testing"
	"time"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		skew    time.Duration
		want    bool
	}{
		{name: "zero expiry never expires", expires: time.Time{}, want: false},
		{name: "future", expires: now.Add(time.Hour), want: false},
		{name: "past", expires: now.Add(-time.Second), want: true},
		{name: "exactly now", expires: now, want: true},
		{name: "within skew", expires: now.Add(20 * time.Second), skew: 30 * time.Second, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{ExpiresAt: tt.expires}
			if got := s.Expired(now, tt.skew); got != tt.want {
				t.Fatalf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUser_EmailConfirmed(t *testing.T) {
	confirmed := time.Now()
	if (User{}).EmailConfirmed() {
		t.Fatalf("user without confirmation timestamp reported confirmed")
	}
	if !(User{EmailConfirmedAt: &confirmed}).EmailConfirmed() {
		t.Fatalf("confirmed user reported unconfirmed")
	}
}

func TestProfileUpdate_IsEmpty(t *testing.T) {
	name := "Ada"
	if !(ProfileUpdate{}).IsEmpty() {
		t.Fatalf("zero update should be empty")
	}
	if (ProfileUpdate{FullName: &name}).IsEmpty() {
		t.Fatalf("update with full name should not be empty")
	}

	active := false
	if !(AdminProfileUpdate{}).IsEmpty() {
		t.Fatalf("zero admin update should be empty")
	}
	if (AdminProfileUpdate{IsActive: &active}).IsEmpty() {
		t.Fatalf("admin update with is_active should not be empty")
	}
}
