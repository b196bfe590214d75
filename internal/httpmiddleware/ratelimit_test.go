package httpmiddleware

import "testing"

func TestTokenBucket_ExhaustsAndRefills(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)

	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d denied before capacity reached", i+1)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("request allowed past capacity")
	}

	// A different client has its own bucket.
	if !l.Allow("5.6.7.8") {
		t.Error("independent client denied")
	}
}

func TestTokenBucket_DefaultCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(0, 10)
	if l.capacity != 10 {
		t.Errorf("capacity = %d, want rate fallback 10", l.capacity)
	}
}
