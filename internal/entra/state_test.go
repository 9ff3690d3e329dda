package entra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	signer, err := NewStateSigner("topsecret", time.Hour)
	require.NoError(t, err)

	raw, err := signer.Encode("cust-1", "client-1", testTenantID)
	require.NoError(t, err)

	claims, err := signer.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", claims.CustomerID)
	assert.Equal(t, "client-1", claims.ClientID)
	assert.Equal(t, testTenantID, claims.TenantID)
}

func TestStateRejectsTamperedToken(t *testing.T) {
	signer, err := NewStateSigner("topsecret", time.Hour)
	require.NoError(t, err)
	raw, err := signer.Encode("cust-1", "client-1", "")
	require.NoError(t, err)

	tampered := raw[:len(raw)-2] + "xx"
	_, err = signer.Decode(tampered)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateRejectsForeignSecret(t *testing.T) {
	a, err := NewStateSigner("secret-a", time.Hour)
	require.NoError(t, err)
	b, err := NewStateSigner("secret-b", time.Hour)
	require.NoError(t, err)

	raw, err := a.Encode("cust-1", "", "")
	require.NoError(t, err)
	_, err = b.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateExpires(t *testing.T) {
	signer, err := NewStateSigner("topsecret", time.Millisecond)
	require.NoError(t, err)
	raw, err := signer.Encode("cust-1", "", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = signer.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateRequiresCustomer(t *testing.T) {
	signer, err := NewStateSigner("topsecret", time.Hour)
	require.NoError(t, err)
	_, err = signer.Encode("  ", "", "")
	assert.Error(t, err)

	_, err = signer.Decode("")
	assert.ErrorIs(t, err, ErrInvalidState)
}
