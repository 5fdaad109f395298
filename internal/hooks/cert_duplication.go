package hooks

import (
	"context"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

var certFields = []string{"certData", "certData2", "certData3"}

// CertificateDataDuplicationHook rejects a document carrying the same
// non-empty certificate in two of its certData slots.
type CertificateDataDuplicationHook struct {
	BaseHook
}

func NewCertificateDataDuplicationHook() *CertificateDataDuplicationHook {
	return &CertificateDataDuplicationHook{}
}

func (h *CertificateDataDuplicationHook) Name() string { return "CertificateDataDuplicationHook" }

func (h *CertificateDataDuplicationHook) Applies(doc *store.MetaData) bool {
	switch doc.Type {
	case store.IdentityProvider, store.ServiceProvider, store.SRAM:
		return true
	}
	return false
}

func (h *CertificateDataDuplicationHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkCertDuplicates(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *CertificateDataDuplicationHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkCertDuplicates(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkCertDuplicates(doc *store.MetaData) error {
	for i := 0; i < len(certFields); i++ {
		first := doc.StringField(certFields[i])
		if first == "" {
			continue
		}
		for j := i + 1; j < len(certFields); j++ {
			second := doc.StringField(certFields[j])
			if second != "" && first == second {
				return validation.Failf(certFields[j],
					"signing certificate %s equals %s", certFields[j], certFields[i])
			}
		}
	}
	return nil
}
