package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutOfRange_KeepsZeroBoundsInJSON(t *testing.T) {
	status := OutOfRange(0, 100, 120)

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"out_of_range","min":0,"max":100,"actual":120}`, string(data))
	assert.Equal(t, "out_of_range(120 not in [0, 100])", status.String())
}

func TestValidStatus_OmitsBounds(t *testing.T) {
	data, err := json.Marshal(Valid())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"valid"}`, string(data))
}
