package knobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBaseline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBaselineFile(t *testing.T) {
	path := writeBaseline(t, `{"pcm.input_gain_db": 3.5, "limiter.enabled": false}`)

	baseline, err := LoadBaselineFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3.5, baseline["pcm.input_gain_db"])
	assert.Equal(t, false, baseline["limiter.enabled"])

	// The loaded baseline feeds straight into the resolver
	resolver, err := NewResolver(baseline, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 3.5, resolver.Resolve("")["pcm.input_gain_db"])
}

func TestLoadBaselineFileEmptyPath(t *testing.T) {
	baseline, err := LoadBaselineFile("")
	assert.NoError(t, err)
	assert.Nil(t, baseline, "no file configured means no baseline")
}

func TestLoadBaselineFileErrors(t *testing.T) {
	_, err := LoadBaselineFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = LoadBaselineFile(writeBaseline(t, `{"broken`))
	assert.Error(t, err)
}

func TestLoadBaselineFileInvalidKnobFailsAtResolver(t *testing.T) {
	// JSON numbers arrive as float64; integral knobs still accept them,
	// but an unknown key fails fast when the resolver validates
	path := writeBaseline(t, `{"highpass.cutoff_hz": 120, "bogus.key": 1}`)

	baseline, err := LoadBaselineFile(path)
	require.NoError(t, err)

	_, err = NewResolver(baseline, testLogger())
	assert.Error(t, err)
}
