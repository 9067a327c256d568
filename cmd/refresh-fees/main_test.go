package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsConfigurationErrors(t *testing.T) {
	t.Setenv("SECRETARIA_JWT_SECRET", "")

	err := run()
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load configuration")
}
