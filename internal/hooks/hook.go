// Package hooks implements the validation/mutation pipeline that runs on
// every metadata mutation. Hooks execute in registration order, each gated
// by its own applicability predicate; the first failure aborts the chain.
package hooks

import (
	"context"

	"metaman/api/internal/store"
)

// User is the caller identity threaded through mutating operations.
type User struct {
	Name        string
	IsSuperUser bool
	IsAPIUser   bool
}

// Hook is one unit of lifecycle logic. Implementations embed BaseHook and
// override the operations they care about.
type Hook interface {
	Name() string
	Applies(doc *store.MetaData) bool
	PostGet(ctx context.Context, doc *store.MetaData) (*store.MetaData, error)
	PrePost(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error)
	PrePut(ctx context.Context, previous, doc *store.MetaData, user User) (*store.MetaData, error)
	PreDelete(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error)
	PreValidate(ctx context.Context, doc *store.MetaData) (*store.MetaData, error)
}

// BaseHook is the identity adapter: applies to everything, changes nothing.
type BaseHook struct{}

func (BaseHook) Applies(*store.MetaData) bool { return true }

func (BaseHook) PostGet(_ context.Context, doc *store.MetaData) (*store.MetaData, error) {
	return doc, nil
}

func (BaseHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return doc, nil
}

func (BaseHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return doc, nil
}

func (BaseHook) PreDelete(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	return doc, nil
}

func (BaseHook) PreValidate(_ context.Context, doc *store.MetaData) (*store.MetaData, error) {
	return doc, nil
}

// Cascader lets hooks persist revision-stamped updates to documents other
// than the one flowing through the chain. Each cascaded write commits
// independently; a crash mid-cascade leaves a partially-updated reference
// graph that the orphan sweep repairs.
type Cascader interface {
	CascadeUpdate(ctx context.Context, doc *store.MetaData, updatedBy, revisionNote string) error
}

// NotAllowedError signals an authorization-policy violation raised by a hook.
type NotAllowedError struct {
	Message string
}

func (e *NotAllowedError) Error() string { return e.Message }

// DuplicateEntityIDError signals an entityid collision inside an identity
// group.
type DuplicateEntityIDError struct {
	EntityID string
	Existing store.EntityType
}

func (e *DuplicateEntityIDError) Error() string {
	return "entityid " + e.EntityID + " is already registered in " + string(e.Existing)
}

// Composite folds the registered hooks left to right and is itself a Hook.
type Composite struct {
	BaseHook
	hooks []Hook
}

func NewComposite(hooks ...Hook) *Composite {
	return &Composite{hooks: hooks}
}

func (c *Composite) Name() string { return "composite" }

// Hooks exposes the registration order, mainly for tests.
func (c *Composite) Hooks() []Hook { return c.hooks }

func (c *Composite) PostGet(ctx context.Context, doc *store.MetaData) (*store.MetaData, error) {
	var err error
	for _, hook := range c.hooks {
		if !hook.Applies(doc) {
			continue
		}
		if doc, err = hook.PostGet(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (c *Composite) PrePost(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	var err error
	for _, hook := range c.hooks {
		if !hook.Applies(doc) {
			continue
		}
		if doc, err = hook.PrePost(ctx, doc, user); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (c *Composite) PrePut(ctx context.Context, previous, doc *store.MetaData, user User) (*store.MetaData, error) {
	var err error
	for _, hook := range c.hooks {
		if !hook.Applies(doc) {
			continue
		}
		if doc, err = hook.PrePut(ctx, previous, doc, user); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (c *Composite) PreDelete(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	var err error
	for _, hook := range c.hooks {
		if !hook.Applies(doc) {
			continue
		}
		if doc, err = hook.PreDelete(ctx, doc, user); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (c *Composite) PreValidate(ctx context.Context, doc *store.MetaData) (*store.MetaData, error) {
	var err error
	for _, hook := range c.hooks {
		if !hook.Applies(doc) {
			continue
		}
		if doc, err = hook.PreValidate(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
