package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashText_Stable(t *testing.T) {
	a := HashText("meet at the dock at 5pm")
	b := HashText("meet at the dock at 5pm")
	c := HashText("meet at the dock at 6pm")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64) // sha256 hex
}

func TestVersionedHash_ModelChangeInvalidates(t *testing.T) {
	text := "same content"
	v1 := VersionedHash("model-v1", text)
	v2 := VersionedHash("model-v2", text)

	assert.NotEqual(t, v1, v2)
	assert.Contains(t, v1, "model-v1:")
}
