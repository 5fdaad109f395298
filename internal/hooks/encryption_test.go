package hooks

import (
	"context"
	"strings"
	"testing"

	"metaman/api/internal/secrets"
	"metaman/api/internal/store"
)

func TestEncryptionHookEncryptsProvisioningCredentials(t *testing.T) {
	ctx := context.Background()
	service := secrets.New("test-key")
	hook := NewEncryptionHook(service)

	doc := newDoc(store.Provisioning, "prov-1", map[string]any{
		"scim_password": "hunter2",
		"scim_url":      "https://scim.example",
	})
	encrypted, err := hook.PrePost(ctx, doc, User{})
	if err != nil {
		t.Fatalf("prePost: %v", err)
	}
	stored := encrypted.StringField("scim_password")
	if !secrets.IsEncryptedSecret(stored) {
		t.Fatalf("password not encrypted: %q", stored)
	}
	if encrypted.StringField("scim_url") != "https://scim.example" {
		t.Fatalf("non-secret field must stay untouched")
	}

	// a second pass must not double-encrypt
	again, err := hook.PrePut(ctx, nil, encrypted, User{})
	if err != nil {
		t.Fatalf("prePut: %v", err)
	}
	if again.StringField("scim_password") != stored {
		t.Fatalf("hook is not idempotent")
	}

	plain, err := service.Decode(stored)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if plain != "hunter2" {
		t.Fatalf("round trip lost the secret: %q", plain)
	}
}

func TestSecretHookHashesClientSecret(t *testing.T) {
	ctx := context.Background()
	hook := NewSecretHook()

	doc := newDoc(store.RelyingParty, "rp@example", map[string]any{"secret": "s3cret"})
	hashed, err := hook.PrePost(ctx, doc, User{})
	if err != nil {
		t.Fatalf("prePost: %v", err)
	}
	stored := hashed.StringField("secret")
	if !strings.HasPrefix(stored, "$2") {
		t.Fatalf("secret not bcrypt hashed: %q", stored)
	}
	if !secrets.IsHashedSecret(stored) {
		t.Fatalf("hash not detected as hashed")
	}

	again, err := hook.PrePut(ctx, nil, hashed, User{})
	if err != nil {
		t.Fatalf("prePut: %v", err)
	}
	if again.StringField("secret") != stored {
		t.Fatalf("hook rehashed an already hashed secret")
	}

	if hook.Applies(newDoc(store.ServiceProvider, "https://sp.example", nil)) {
		t.Fatalf("secret hook must not apply to saml entities")
	}
}
