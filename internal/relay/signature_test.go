package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/sjson"
)

func TestComputeSignatureDeterministic(t *testing.T) {
	event := []byte(`{"id":"evt_1","type":"message.delivered","to":"+15550100"}`)

	a, err := ComputeSignature("whsec_abc", 1700000000, event)
	require.NoError(t, err)
	b, err := ComputeSignature("whsec_abc", 1700000000, event)
	require.NoError(t, err)
	assert.Equal(t, a, b, "two independent computations must be byte-identical")
	assert.Len(t, a, 64, "hex-encoded SHA-256")
}

func TestComputeSignatureCanonicalization(t *testing.T) {
	// Key order and whitespace must not affect the signature.
	a, err := ComputeSignature("whsec_abc", 1700000000, []byte(`{"a":1,"b":"x"}`))
	require.NoError(t, err)
	b, err := ComputeSignature("whsec_abc", 1700000000, []byte(`{ "b": "x", "a": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeSignatureSensitivity(t *testing.T) {
	event := []byte(`{"id":"evt_1","type":"message.delivered"}`)
	base, err := ComputeSignature("whsec_abc", 1700000000, event)
	require.NoError(t, err)

	mutated, err := sjson.SetBytes(event, "id", "evt_2")
	require.NoError(t, err)
	changed, err := ComputeSignature("whsec_abc", 1700000000, mutated)
	require.NoError(t, err)
	assert.NotEqual(t, base, changed, "payload change must change the signature")

	shifted, err := ComputeSignature("whsec_abc", 1700000001, event)
	require.NoError(t, err)
	assert.NotEqual(t, base, shifted, "timestamp change must change the signature")

	otherKey, err := ComputeSignature("whsec_xyz", 1700000000, event)
	require.NoError(t, err)
	assert.NotEqual(t, base, otherKey, "secret change must change the signature")
}

func TestVerifySignature(t *testing.T) {
	event := []byte(`{"id":"evt_1","type":"message.sent"}`)
	sig, err := ComputeSignature("whsec_abc", 1700000000, event)
	require.NoError(t, err)

	assert.True(t, VerifySignature("whsec_abc", 1700000000, event, sig))
	assert.False(t, VerifySignature("whsec_abc", 1700000000, event, "deadbeef"))
	assert.False(t, VerifySignature("whsec_other", 1700000000, event, sig))
	assert.False(t, VerifySignature("whsec_abc", 1700000001, event, sig))
	assert.False(t, VerifySignature("whsec_abc", 1700000000, []byte(`not json`), sig))
}
