package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Data     []byte    `json:"data" msgpack:"data" cbor:"data"`
	CachedAt time.Time `json:"cachedAt" msgpack:"cachedAt" cbor:"cachedAt"`
	ETag     string    `json:"etag,omitempty" msgpack:"etag,omitempty" cbor:"etag,omitempty"`
}

func TestCodecs(t *testing.T) {
	in := sample{
		Data:     []byte(`{"title":"Products"}`),
		CachedAt: time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC),
		ETag:     `"abc"`,
	}
	for _, name := range []string{NameJSON, NameMsgpack, NameCBOR} {
		t.Run(name, func(t *testing.T) {
			c, err := New[sample](name, 0)
			require.NoError(t, err)
			b, err := c.Encode(in)
			require.NoError(t, err)
			out, err := c.Decode(b)
			require.NoError(t, err)
			require.Equal(t, in.Data, out.Data)
			require.Equal(t, in.ETag, out.ETag)
			require.True(t, in.CachedAt.Equal(out.CachedAt), "%v != %v", in.CachedAt, out.CachedAt)
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := New[sample]("gob", 0)
	require.Error(t, err)
}

func TestLimit(t *testing.T) {
	c, err := New[sample](NameJSON, 16)
	require.NoError(t, err)
	b, err := c.Encode(sample{ETag: "a-rather-long-entity-tag"})
	require.NoError(t, err)
	_, err = c.Decode(b)
	require.ErrorContains(t, err, "payload too large")
}
