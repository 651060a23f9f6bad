// internal/models/parent_ref.go
package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ParentKind string

const (
	ParentKindOrder        ParentKind = "order"
	ParentKindSubscription ParentKind = "subscription"
)

// ParentRef identifies the single record an invoice exists to pay for:
// an order or a subscription, never both.
type ParentRef struct {
	Kind ParentKind
	ID   uuid.UUID
}

func OrderRef(id uuid.UUID) ParentRef {
	return ParentRef{Kind: ParentKindOrder, ID: id}
}

func SubscriptionRef(id uuid.UUID) ParentRef {
	return ParentRef{Kind: ParentKindSubscription, ID: id}
}

func ParseParentRef(kind string, id uuid.UUID) (ParentRef, error) {
	switch ParentKind(kind) {
	case ParentKindOrder:
		return OrderRef(id), nil
	case ParentKindSubscription:
		return SubscriptionRef(id), nil
	default:
		return ParentRef{}, fmt.Errorf("unknown parent kind %q", kind)
	}
}

func (p ParentRef) IsOrder() bool {
	return p.Kind == ParentKindOrder
}

func (p ParentRef) IsSubscription() bool {
	return p.Kind == ParentKindSubscription
}

func (p ParentRef) String() string {
	return string(p.Kind) + ":" + p.ID.String()
}

// Columns maps the ref onto the two nullable foreign key columns the
// relational schema keeps for compatibility.
func (p ParentRef) Columns() (orderID, subscriptionID *uuid.UUID) {
	id := p.ID
	switch p.Kind {
	case ParentKindOrder:
		return &id, nil
	case ParentKindSubscription:
		return nil, &id
	}
	return nil, nil
}

// RefFromColumns rebuilds the sum type from the persisted nullable pair.
// Rows with both or neither column set violate the invoice invariant.
func RefFromColumns(orderID, subscriptionID *uuid.UUID) (ParentRef, error) {
	switch {
	case orderID != nil && subscriptionID != nil:
		return ParentRef{}, errors.New("row references both an order and a subscription")
	case orderID != nil:
		return OrderRef(*orderID), nil
	case subscriptionID != nil:
		return SubscriptionRef(*subscriptionID), nil
	default:
		return ParentRef{}, errors.New("row references neither an order nor a subscription")
	}
}
