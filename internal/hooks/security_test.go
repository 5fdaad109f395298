package hooks

import (
	"context"
	"errors"
	"testing"

	"metaman/api/internal/store"
)

func TestSecurityHookProduction(t *testing.T) {
	ctx := context.Background()
	hook := NewSecurityHook("prod")

	idp := newDoc(store.IdentityProvider, "https://idp.example", nil)
	var notAllowed *NotAllowedError

	if _, err := hook.PrePost(ctx, idp, User{Name: "jdoe"}); !errors.As(err, &notAllowed) {
		t.Fatalf("non-super idp create must fail in production, got %v", err)
	}
	if _, err := hook.PrePost(ctx, idp, User{Name: "admin", IsSuperUser: true}); err != nil {
		t.Fatalf("super user idp create should pass: %v", err)
	}

	previous := newDoc(store.ServiceProvider, "https://sp.example", nil)
	tampered := previous.DeepCopy()
	tampered.Data["manipulation"] = "attributes['urn:mace:dir:attribute-def:uid'] = 'x'"
	if _, err := hook.PrePut(ctx, previous, tampered, User{Name: "jdoe"}); !errors.As(err, &notAllowed) {
		t.Fatalf("manipulation change by non-super must fail, got %v", err)
	}
	if _, err := hook.PrePut(ctx, previous, tampered, User{Name: "admin", IsSuperUser: true}); err != nil {
		t.Fatalf("manipulation change by super user should pass: %v", err)
	}

	if _, err := hook.PreDelete(ctx, previous, User{Name: "robot", IsAPIUser: true}); !errors.As(err, &notAllowed) {
		t.Fatalf("api-user delete must fail in production, got %v", err)
	}
	if _, err := hook.PreDelete(ctx, idp, User{Name: "jdoe"}); !errors.As(err, &notAllowed) {
		t.Fatalf("non-super idp delete must fail in production, got %v", err)
	}
}

func TestSecurityHookDevIsPermissive(t *testing.T) {
	ctx := context.Background()
	hook := NewSecurityHook("dev")

	idp := newDoc(store.IdentityProvider, "https://idp.example", nil)
	if _, err := hook.PrePost(ctx, idp, User{Name: "jdoe"}); err != nil {
		t.Fatalf("dev create should pass: %v", err)
	}
	if _, err := hook.PreDelete(ctx, idp, User{Name: "robot", IsAPIUser: true}); err != nil {
		t.Fatalf("dev delete should pass: %v", err)
	}
}

func TestSSIDValidation(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore()
	hook := NewSSIDValidationHook(docs)

	idp := newDoc(store.IdentityProvider, "https://idp.example", nil)
	idp.Data["stepupEntities"] = []any{map[string]any{"name": "https://sp.example"}}
	saveDoc(t, docs, idp)

	targeted := newDoc(store.ServiceProvider, "https://sp.example", map[string]any{
		"coin:stepup:requireloa": "http://example.org/assurance/loa2",
	})
	if !hook.Applies(targeted) {
		t.Fatalf("hook should apply when requireloa is set")
	}
	if _, err := hook.PrePut(ctx, nil, targeted, User{}); err == nil {
		t.Fatalf("requireloa on a stepup target must fail")
	}

	free := newDoc(store.ServiceProvider, "https://free.example", map[string]any{
		"coin:stepup:requireloa": "http://example.org/assurance/loa2",
	})
	if _, err := hook.PrePut(ctx, nil, free, User{}); err != nil {
		t.Fatalf("requireloa on an untargeted entity should pass: %v", err)
	}

	plain := newDoc(store.ServiceProvider, "https://sp.example", nil)
	if hook.Applies(plain) {
		t.Fatalf("hook should not apply without requireloa")
	}
}
