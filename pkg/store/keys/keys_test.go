package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenDocKeyRoundTrip(t *testing.T) {
	k, err := GenDocKey("u1", Characters, "c-42")
	require.NoError(t, err)
	assert.Equal(t, "u:u1:c:characters:d:c-42", k)

	p, err := ParseDocKey(k)
	require.NoError(t, err)
	assert.Equal(t, DocKeyParts{User: "u1", Collection: Characters, DocID: "c-42"}, p)
}

func TestGenDocKeyRejects(t *testing.T) {
	tests := []struct {
		name                 string
		user, collection, id string
		want                 error
	}{
		{"empty user", "", Characters, "a", ErrInvalidID},
		{"colon in id", "u1", Characters, "a:b", ErrInvalidID},
		{"slash in id", "u1", Personas, "a/b", ErrInvalidID},
		{"slash in user", "u/1", Personas, "a", ErrInvalidID},
		{"unknown collection", "u1", "notes", "a", ErrUnknownCollection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenDocKey(tt.user, tt.collection, tt.id)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseDocKeyRejectsForeignShapes(t *testing.T) {
	for _, k := range []string{"t:1:m:2", "u:x:c:characters", "u:x:c:nope:d:1", "u:x:z:characters:d:1"} {
		_, err := ParseDocKey(k)
		assert.Error(t, err, k)
	}
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("u:a:c:personas:d;"), UpperBound("u:a:c:personas:d:"))
	assert.Equal(t, []byte{'b'}, UpperBound("a\xff"))
	assert.Nil(t, UpperBound("\xff\xff"))
}

func TestDocPath(t *testing.T) {
	assert.Equal(t, "/users/u1/personas/p1", DocPath("u1", Personas, "p1"))
	assert.Equal(t, "/users/u1/personas", DocPath("u1", Personas, ""))
}
