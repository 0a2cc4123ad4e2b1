package utils

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReferenceNumber(t *testing.T) {
	pattern := regexp.MustCompile(`^OP\d{12}\d{3}\d{8}$`)

	t.Run("Format", func(t *testing.T) {
		ref := GenerateReferenceNumber()
		assert.Regexp(t, pattern, ref)
		assert.LessOrEqual(t, len(ref), 25)
	})

	t.Run("Unique", func(t *testing.T) {
		seen := make(map[string]struct{}, 200)
		for i := 0; i < 200; i++ {
			ref := GenerateReferenceNumber()
			_, dup := seen[ref]
			assert.False(t, dup, "duplicate reference %s", ref)
			seen[ref] = struct{}{}
		}
	})
}
