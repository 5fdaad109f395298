package hooks

import (
	"context"

	"metaman/api/internal/secrets"
	"metaman/api/internal/store"
)

var encryptedProvisioningFields = []string{"scim_password", "eva_token", "graph_secret"}

// EncryptionHook encrypts provisioning credentials at rest. Already-encoded
// values are detected and skipped so the hook is idempotent across updates.
type EncryptionHook struct {
	BaseHook
	secrets *secrets.Service
}

func NewEncryptionHook(service *secrets.Service) *EncryptionHook {
	return &EncryptionHook{secrets: service}
}

func (h *EncryptionHook) Name() string { return "EncryptionHook" }

func (h *EncryptionHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.Provisioning
}

func (h *EncryptionHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.encrypt(doc)
}

func (h *EncryptionHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return h.encrypt(doc)
}

func (h *EncryptionHook) encrypt(doc *store.MetaData) (*store.MetaData, error) {
	fields := doc.MetaDataFields()
	for _, field := range encryptedProvisioningFields {
		plain, ok := fields[field].(string)
		if !ok || plain == "" || secrets.IsEncryptedSecret(plain) {
			continue
		}
		encoded, err := h.secrets.EncryptAndEncode(plain)
		if err != nil {
			return nil, err
		}
		fields[field] = encoded
	}
	return doc, nil
}

// SecretHook one-way hashes the client secret of OIDC relying parties and
// resource servers, skipping values that are already bcrypt hashes.
type SecretHook struct {
	BaseHook
}

func NewSecretHook() *SecretHook { return &SecretHook{} }

func (h *SecretHook) Name() string { return "SecretHook" }

func (h *SecretHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.RelyingParty || doc.Type == store.ResourceServer
}

func (h *SecretHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return hashSecretField(doc)
}

func (h *SecretHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return hashSecretField(doc)
}

func hashSecretField(doc *store.MetaData) (*store.MetaData, error) {
	fields := doc.MetaDataFields()
	plain, ok := fields["secret"].(string)
	if !ok || plain == "" || secrets.IsHashedSecret(plain) {
		return doc, nil
	}
	hashed, err := secrets.HashSecret(plain)
	if err != nil {
		return nil, err
	}
	fields["secret"] = hashed
	return doc, nil
}
