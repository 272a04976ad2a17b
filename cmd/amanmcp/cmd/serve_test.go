package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewServeCmd_Flags(t *testing.T) {
	c := newServeCmd()

	assert.Equal(t, "serve [path]", c.Use)

	transport, err := c.Flags().GetString("transport")
	assert.NoError(t, err)
	assert.Equal(t, "stdio", transport)

	checkStaleness, err := c.Flags().GetBool("check-staleness")
	assert.NoError(t, err)
	assert.False(t, checkStaleness)
}
