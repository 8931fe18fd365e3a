package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Index string   `json:"index" yaml:"index"`
	Terms int64    `json:"terms" yaml:"terms"`
	Nodes []string `json:"nodes" yaml:"nodes"`
}

func TestCodecs(t *testing.T) {
	in := payload{Index: "twitter", Terms: 42, Nodes: []string{"n1", "n2"}}
	for _, name := range []string{"json", "yaml"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			data := MustMarshal(c, in)
			assert.Contains(t, string(data), "twitter")

			var out payload
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}

	_, ok := ByName("msgpack")
	assert.False(t, ok)
	assert.Equal(t, "json", Default.Name())
}

func TestMustMarshal_Panics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(JSON{}, func() {}) })
}
