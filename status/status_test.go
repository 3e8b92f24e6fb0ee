package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusVerify(t *testing.T) {
	for _, s := range []Status{Unknown, Succeeded, Failed, ComputeExceeded} {
		assert.NoError(t, s.Verify())
	}
	assert.ErrorIs(t, Status(42).Verify(), errUnknownStatus)
	assert.Equal(t, "Invalid status", Status(42).String())
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(ComputeExceeded)
	require.NoError(t, err)
	assert.Equal(t, `"ComputeExceeded"`, string(b))

	var s Status
	require.NoError(t, json.Unmarshal(b, &s))
	assert.Equal(t, ComputeExceeded, s)

	assert.Error(t, json.Unmarshal([]byte(`"Nope"`), &s))
	_, err = json.Marshal(Status(7))
	assert.Error(t, err)
}
