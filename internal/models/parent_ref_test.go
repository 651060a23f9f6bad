// internal/models/parent_ref_test.go
package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentRefColumnsRoundTrip(t *testing.T) {
	orderID := uuid.New()
	subscriptionID := uuid.New()

	orderRef := OrderRef(orderID)
	gotOrder, gotSub := orderRef.Columns()
	require.NotNil(t, gotOrder)
	assert.Nil(t, gotSub)
	assert.Equal(t, orderID, *gotOrder)

	rebuilt, err := RefFromColumns(gotOrder, gotSub)
	require.NoError(t, err)
	assert.Equal(t, orderRef, rebuilt)
	assert.True(t, rebuilt.IsOrder())

	subRef := SubscriptionRef(subscriptionID)
	gotOrder, gotSub = subRef.Columns()
	assert.Nil(t, gotOrder)
	require.NotNil(t, gotSub)

	rebuilt, err = RefFromColumns(gotOrder, gotSub)
	require.NoError(t, err)
	assert.Equal(t, subRef, rebuilt)
	assert.True(t, rebuilt.IsSubscription())
}

func TestRefFromColumnsRejectsInvalidRows(t *testing.T) {
	orderID := uuid.New()
	subscriptionID := uuid.New()

	_, err := RefFromColumns(&orderID, &subscriptionID)
	assert.Error(t, err, "a row pointing at both parents must be rejected")

	_, err = RefFromColumns(nil, nil)
	assert.Error(t, err, "a row pointing at neither parent must be rejected")
}

func TestParseParentRef(t *testing.T) {
	id := uuid.New()

	ref, err := ParseParentRef("order", id)
	require.NoError(t, err)
	assert.Equal(t, OrderRef(id), ref)

	ref, err = ParseParentRef("subscription", id)
	require.NoError(t, err)
	assert.Equal(t, SubscriptionRef(id), ref)

	_, err = ParseParentRef("coupon", id)
	assert.Error(t, err)
}
