package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFprint(t *testing.T) {
	var short, full bytes.Buffer
	Fprint(&short, false)
	Fprint(&full, true)

	assert.Equal(t, "sweeper dev\n", short.String())
	assert.Contains(t, full.String(), "revision:")
	assert.Contains(t, full.String(), "go version:")
	assert.Equal(t, "sweeper dev", Version().String())
}
