package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("u1", "lecturer", "geoattend", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(pair.AccessToken, "test-key", "geoattend")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "lecturer" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParse_Rejections(t *testing.T) {
	pair, err := Issue("u1", "student", "geoattend", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := Parse(pair.AccessToken, "wrong-key", "geoattend"); err == nil {
		t.Error("wrong key accepted")
	}
	if _, err := Parse(pair.AccessToken, "test-key", "someone-else"); err == nil {
		t.Error("issuer mismatch accepted")
	}

	expired, err := Issue("u1", "student", "geoattend", "test-key", -time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(expired.AccessToken, "test-key", "geoattend"); err == nil {
		t.Error("expired token accepted")
	}
}
