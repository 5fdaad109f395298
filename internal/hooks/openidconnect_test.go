package hooks

import (
	"context"
	"testing"

	"metaman/api/internal/store"
)

type fakeClientRegistry struct {
	clients map[string]map[string]any
	deleted []string
}

func newFakeClientRegistry() *fakeClientRegistry {
	return &fakeClientRegistry{clients: map[string]map[string]any{}}
}

func (f *fakeClientRegistry) Get(_ context.Context, clientID string) (map[string]any, error) {
	client, ok := f.clients[clientID]
	if !ok {
		return nil, nil
	}
	copied := map[string]any{}
	for key, value := range client {
		copied[key] = value
	}
	return copied, nil
}

func (f *fakeClientRegistry) CreateOrUpdate(_ context.Context, client map[string]any) error {
	id, _ := client["clientId"].(string)
	f.clients[id] = client
	return nil
}

func (f *fakeClientRegistry) Delete(_ context.Context, clientID string) error {
	f.deleted = append(f.deleted, clientID)
	delete(f.clients, clientID)
	return nil
}

func oidcClientDoc(entityID string) *store.MetaData {
	return newDoc(store.ServiceProvider, entityID, map[string]any{
		"coin:oidc_client": true,
	})
}

func TestOpenIDConnectHookApplies(t *testing.T) {
	registry := newFakeClientRegistry()
	hook := NewOpenIDConnectHook(registry)

	if !hook.Applies(oidcClientDoc("https://sp.example")) {
		t.Fatalf("flagged sp must apply")
	}
	if hook.Applies(newDoc(store.ServiceProvider, "https://plain.example", nil)) {
		t.Fatalf("unflagged sp must not apply")
	}
	if hook.Applies(newDoc(store.IdentityProvider, "https://idp.example", map[string]any{"coin:oidc_client": true})) {
		t.Fatalf("idp must not apply")
	}
	var nilHook = NewOpenIDConnectHook(nil)
	if nilHook.Applies(oidcClientDoc("https://sp.example")) {
		t.Fatalf("hook without registry must not apply")
	}
}

func TestOpenIDConnectHookCreateSyncsClient(t *testing.T) {
	ctx := context.Background()
	registry := newFakeClientRegistry()
	hook := NewOpenIDConnectHook(registry)

	doc := oidcClientDoc("https://sp.example")
	doc.Data["oidcClient"] = map[string]any{"scopes": []any{"openid"}}

	synced, err := hook.PrePost(ctx, doc, User{})
	if err != nil {
		t.Fatalf("prePost: %v", err)
	}
	if _, ok := synced.Data["oidcClient"]; ok {
		t.Fatalf("document must not keep a copy of the client record")
	}
	remote := registry.clients["https://sp.example"]
	if remote == nil {
		t.Fatalf("client not created remotely")
	}
	if secret, _ := remote["clientSecret"].(string); secret == "" {
		t.Fatalf("create must generate a client secret")
	}

	// updates keep the existing secret
	update := oidcClientDoc("https://sp.example")
	update.Data["oidcClient"] = map[string]any{"scopes": []any{"openid", "groups"}}
	if _, err := hook.PrePut(ctx, nil, update, User{}); err != nil {
		t.Fatalf("prePut: %v", err)
	}
	if _, ok := registry.clients["https://sp.example"]["clientSecret"]; ok {
		t.Fatalf("update must not mint a new secret")
	}
}

func TestOpenIDConnectHookReadStripsSecret(t *testing.T) {
	ctx := context.Background()
	registry := newFakeClientRegistry()
	registry.clients["https://sp.example"] = map[string]any{
		"clientId":     "https://sp.example",
		"clientSecret": "opaque",
		"scopes":       []any{"openid"},
	}
	hook := NewOpenIDConnectHook(registry)

	doc, err := hook.PostGet(ctx, oidcClientDoc("https://sp.example"))
	if err != nil {
		t.Fatalf("postGet: %v", err)
	}
	client, _ := doc.Data["oidcClient"].(map[string]any)
	if client == nil {
		t.Fatalf("client not attached on read")
	}
	if _, ok := client["clientSecret"]; ok {
		t.Fatalf("client secret leaked through a read")
	}
}

func TestOpenIDConnectHookDelete(t *testing.T) {
	ctx := context.Background()
	registry := newFakeClientRegistry()
	registry.clients["https://sp.example"] = map[string]any{"clientId": "https://sp.example"}
	hook := NewOpenIDConnectHook(registry)

	if _, err := hook.PreDelete(ctx, oidcClientDoc("https://sp.example"), User{}); err != nil {
		t.Fatalf("preDelete: %v", err)
	}
	if len(registry.deleted) != 1 || registry.deleted[0] != "https://sp.example" {
		t.Fatalf("remote client not deleted: %v", registry.deleted)
	}
}
