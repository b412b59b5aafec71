package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	memorystore "github.com/open-rails/phoneauth/storage/memory"
)

func TestAttemptMemoryStore(t *testing.T) {
	svc := &Service{}
	svc.WithEphemeralStore(memorystore.NewKV(), EphemeralMemory)
	ctx := context.Background()

	a := Attempt{ID: uuid.NewString(), PhoneNumber: "+15551234567", Email: "+15551234567@sms.example", State: StateChallengeSent, ChallengeID: "ch_1"}
	token, err := svc.SaveAttempt(ctx, "", a, 0)
	if err != nil {
		t.Fatalf("SaveAttempt failed: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a minted token")
	}

	got, err := svc.LoadAttempt(ctx, token)
	if err != nil {
		t.Fatalf("LoadAttempt failed: %v", err)
	}
	if got != a {
		t.Fatalf("expected %+v, got %+v", a, got)
	}

	a.State = StateFailed
	a.Recoverable = true
	if _, err := svc.SaveAttempt(ctx, token, a, 0); err != nil {
		t.Fatalf("SaveAttempt (update) failed: %v", err)
	}
	got, _ = svc.LoadAttempt(ctx, token)
	if !got.Recoverable {
		t.Fatalf("expected updated attempt")
	}

	if err := svc.DiscardAttempt(ctx, token); err != nil {
		t.Fatalf("DiscardAttempt failed: %v", err)
	}
	if _, err := svc.LoadAttempt(ctx, token); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestAttemptStoreRequired(t *testing.T) {
	svc := &Service{}
	if _, err := svc.SaveAttempt(context.Background(), "", Attempt{}, 0); err == nil {
		t.Fatalf("expected error without an ephemeral store")
	}
	if svc.EphemeralMode() != EphemeralMemory {
		t.Fatalf("expected memory mode by default")
	}
}

func TestIsDevEnvironment(t *testing.T) {
	for env, want := range map[string]bool{"": true, "dev": true, "staging": true, "prod": false, " Production ": false} {
		if got := isDevEnvironment(env); got != want {
			t.Fatalf("isDevEnvironment(%q) = %v, want %v", env, got, want)
		}
	}
}
