package util_test

import (
	"testing"

	"github.com/flokli/filedump/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeHash(t *testing.T) {
	t.Run("lowercase", func(t *testing.T) {
		hash, ok := util.NormalizeHash("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
		assert.True(t, ok)
		assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	})

	t.Run("uppercase", func(t *testing.T) {
		hash, ok := util.NormalizeHash("2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824")
		assert.True(t, ok)
		assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	})

	t.Run("too short", func(t *testing.T) {
		_, ok := util.NormalizeHash("2cf24dba")
		assert.False(t, ok)
	})

	t.Run("path traversal", func(t *testing.T) {
		_, ok := util.NormalizeHash("../../etc/passwd")
		assert.False(t, ok)
	})
}
