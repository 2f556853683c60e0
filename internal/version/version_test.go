package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	info := Info()
	assert.True(t, strings.HasPrefix(info, "modmigrate dev (commit: none"))
	assert.Equal(t, "modmigrate/dev", UserAgent())
	assert.Equal(t, "dev", Short())
}
