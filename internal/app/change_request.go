package app

import (
	"context"
	"sort"
	"time"

	"metaman/api/internal/hooks"
	"metaman/api/internal/store"
	"metaman/api/internal/util"
)

// Change requests are pending sparse updates awaiting approval. They live in
// the type's change-request shadow collection as plain documents so the
// store needs no extra tables.

func changeRequestToDoc(request *store.ChangeRequest) *store.MetaData {
	return &store.MetaData{
		ID:   request.ID,
		Type: request.Type,
		Data: map[string]any{
			"metaDataId":  request.MetaDataID,
			"pathUpdates": request.PathUpdates,
			"note":        request.Note,
			"created":     request.Created.Format(time.RFC3339),
			"requestedBy": request.RequestedBy,
		},
	}
}

func docToChangeRequest(entityType store.EntityType, doc *store.MetaData) *store.ChangeRequest {
	request := &store.ChangeRequest{
		ID:          doc.ID,
		Type:        entityType,
		PathUpdates: map[string]any{},
	}
	if id, ok := doc.Data["metaDataId"].(string); ok {
		request.MetaDataID = id
	}
	if updates, ok := doc.Data["pathUpdates"].(map[string]any); ok {
		request.PathUpdates = updates
	}
	if note, ok := doc.Data["note"].(string); ok {
		request.Note = note
	}
	if requestedBy, ok := doc.Data["requestedBy"].(string); ok {
		request.RequestedBy = requestedBy
	}
	if raw, ok := doc.Data["created"].(string); ok {
		if created, err := time.Parse(time.RFC3339, raw); err == nil {
			request.Created = created
		}
	}
	return request
}

// CreateChangeRequest stores a pending sparse update against a live
// document.
func (s *Service) CreateChangeRequest(ctx context.Context, request *store.ChangeRequest, user hooks.User) (*store.ChangeRequest, error) {
	if _, err := s.store.FindByID(ctx, request.Type.Collection(), request.MetaDataID); err != nil {
		return nil, asDomainError(err)
	}
	if len(request.PathUpdates) == 0 {
		return nil, domainError(400, "ValidationFailure", "change request has no path updates", nil)
	}
	request.ID = util.NewID("cr")
	request.Created = time.Now().UTC()
	request.RequestedBy = user.Name
	if err := s.store.Save(ctx, request.Type.ChangeRequestCollection(), changeRequestToDoc(request)); err != nil {
		return nil, asDomainError(err)
	}
	s.log.Info().Str("type", string(request.Type)).Str("metaDataId", request.MetaDataID).
		Str("user", user.Name).Msg("created change request")
	return request, nil
}

// ChangeRequests lists the pending requests for one document, oldest first.
func (s *Service) ChangeRequests(ctx context.Context, entityType store.EntityType, metaDataID string) ([]*store.ChangeRequest, error) {
	docs, err := s.store.Find(ctx, entityType.ChangeRequestCollection(), store.Query{
		Data: map[string]any{"metaDataId": metaDataID},
	})
	if err != nil {
		return nil, asDomainError(err)
	}
	requests := make([]*store.ChangeRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, docToChangeRequest(entityType, doc))
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Created.Before(requests[j].Created) })
	return requests, nil
}

// AllChangeRequests lists every pending request across entity types.
func (s *Service) AllChangeRequests(ctx context.Context) ([]*store.ChangeRequest, error) {
	requests := make([]*store.ChangeRequest, 0)
	for _, entityType := range store.EntityTypes {
		docs, err := s.store.Find(ctx, entityType.ChangeRequestCollection(), store.Query{})
		if err != nil {
			return nil, asDomainError(err)
		}
		for _, doc := range docs {
			requests = append(requests, docToChangeRequest(entityType, doc))
		}
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].Created.Before(requests[j].Created) })
	return requests, nil
}

// AcceptChangeRequest applies the stored path updates through the normal
// merge-update path and removes the request. The request is consumed even
// when the merge turns out to be a no-op.
func (s *Service) AcceptChangeRequest(ctx context.Context, entityType store.EntityType, requestID string, user hooks.User) (*MergeUpdateResult, error) {
	doc, err := s.store.FindByID(ctx, entityType.ChangeRequestCollection(), requestID)
	if err != nil {
		return nil, asDomainError(err)
	}
	request := docToChangeRequest(entityType, doc)
	note := request.Note
	if note == "" {
		note = "accepted change request from " + request.RequestedBy
	}
	result, err := s.MergeUpdate(ctx, entityType, request.MetaDataID, request.PathUpdates, user, note)
	if err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, entityType.ChangeRequestCollection(), requestID); err != nil {
		return nil, asDomainError(err)
	}
	s.log.Info().Str("type", string(entityType)).Str("metaDataId", request.MetaDataID).
		Bool("changed", result.Changed).Str("user", user.Name).Msg("accepted change request")
	return result, nil
}

// RejectChangeRequest discards a pending request.
func (s *Service) RejectChangeRequest(ctx context.Context, entityType store.EntityType, requestID string, user hooks.User) error {
	if _, err := s.store.FindByID(ctx, entityType.ChangeRequestCollection(), requestID); err != nil {
		return asDomainError(err)
	}
	if err := s.store.Remove(ctx, entityType.ChangeRequestCollection(), requestID); err != nil {
		return asDomainError(err)
	}
	s.log.Info().Str("type", string(entityType)).Str("id", requestID).
		Str("user", user.Name).Msg("rejected change request")
	return nil
}
