package hooks

import (
	"context"
	"fmt"

	"metaman/api/internal/store"
	"metaman/api/internal/util"
)

const oidcClientField = "coin:oidc_client"

// ClientRegistry is the external OIDC client registry an SP flagged as OIDC
// client is synchronized with.
type ClientRegistry interface {
	Get(ctx context.Context, clientID string) (map[string]any, error)
	CreateOrUpdate(ctx context.Context, client map[string]any) error
	Delete(ctx context.Context, clientID string) error
}

// OpenIDConnectHook keeps the embedded OIDC client sub-object of a service
// provider in sync with the external client registry: fetch-and-attach on
// read, create/update/delete remotely on write. The client secret never
// leaves the registry through a read.
type OpenIDConnectHook struct {
	BaseHook
	registry ClientRegistry
}

func NewOpenIDConnectHook(registry ClientRegistry) *OpenIDConnectHook {
	return &OpenIDConnectHook{registry: registry}
}

func (h *OpenIDConnectHook) Name() string { return "OpenIDConnectHook" }

func (h *OpenIDConnectHook) Applies(doc *store.MetaData) bool {
	if h.registry == nil || doc.Type != store.ServiceProvider {
		return false
	}
	return doc.BoolField(oidcClientField)
}

func (h *OpenIDConnectHook) PostGet(ctx context.Context, doc *store.MetaData) (*store.MetaData, error) {
	client, err := h.registry.Get(ctx, doc.EntityID())
	if err != nil {
		return nil, fmt.Errorf("fetch oidc client %s: %w", doc.EntityID(), err)
	}
	if client != nil {
		delete(client, "clientSecret")
		doc.Data["oidcClient"] = client
	}
	return doc, nil
}

func (h *OpenIDConnectHook) PrePost(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.sync(ctx, doc, true)
}

func (h *OpenIDConnectHook) PrePut(ctx context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.sync(ctx, doc, false)
}

func (h *OpenIDConnectHook) PreDelete(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.registry.Delete(ctx, doc.EntityID()); err != nil {
		return nil, fmt.Errorf("delete oidc client %s: %w", doc.EntityID(), err)
	}
	return doc, nil
}

func (h *OpenIDConnectHook) sync(ctx context.Context, doc *store.MetaData, create bool) (*store.MetaData, error) {
	client, _ := doc.Data["oidcClient"].(map[string]any)
	if client == nil {
		client = map[string]any{}
	}
	client["clientId"] = doc.EntityID()
	if create {
		client["clientSecret"] = util.NewID("")
	}
	if err := h.registry.CreateOrUpdate(ctx, client); err != nil {
		return nil, fmt.Errorf("sync oidc client %s: %w", doc.EntityID(), err)
	}
	// The registry owns the client record; the document keeps no copy.
	delete(doc.Data, "oidcClient")
	return doc, nil
}
