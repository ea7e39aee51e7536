package kvstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFingerprint(t *testing.T) {
	base := Config{Backend: BackendBolt, Path: "/data/a.db"}
	assert.Equal(t, base.Fingerprint(), base.Fingerprint())

	changed := base
	changed.RequestTimeout = "1s"
	assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())

	t.Run("field boundaries", func(t *testing.T) {
		pairs := [][2]Config{
			{{Backend: BackendHTTP, Path: "a|b"}, {Backend: BackendHTTP, Path: "a", Address: "b"}},
			{{Path: "ab"}, {Path: "a", Address: "b"}},
			{{Backend: "mem", Path: ""}, {Backend: "", Path: "mem"}},
		}
		for _, p := range pairs {
			assert.NotEqual(t, p[0].Fingerprint(), p[1].Fingerprint(), "%+v vs %+v", p[0], p[1])
		}
	})
}

func TestConfigTimeouts(t *testing.T) {
	cfg := Config{Backend: BackendHTTP, Address: "http://localhost:4000"}

	d, err := cfg.ParseDialTimeout()
	require.NoError(t, err)
	assert.Equal(t, defaultDialTimeout, d)

	d, err = cfg.ParseRequestTimeout()
	require.NoError(t, err)
	assert.Zero(t, d, "no request timeout unless configured")

	cfg.RequestTimeout = "750ms"
	d, err = cfg.ParseRequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, d)
	assert.NoError(t, cfg.Validate())

	cfg.RequestTimeout = "-1s"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)

	cfg.RequestTimeout = "soon"
	assert.Error(t, cfg.Validate())
}
