package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithFileWritesRenamedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer := SetupWithFile("spacesd", "test", FileConfig{Path: path, MaxSizeMB: 1})
	logger.Info("block sealed", "height", 7)
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(strings.Split(string(raw), "\n")[0])

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	require.Equal(t, "block sealed", record["message"])
	require.Equal(t, "INFO", record["severity"])
	require.Equal(t, "spacesd", record["service"])
	require.Equal(t, "test", record["env"])
	require.Contains(t, record, "timestamp")
}

func TestSetupWithFileWithoutPath(t *testing.T) {
	logger, closer := SetupWithFile("spacesd", "", FileConfig{})
	require.NotNil(t, logger)
	require.NoError(t, closer.Close())
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("credential", "eyJhbGciOi").Value.String())
	require.Equal(t, "42", MaskField("height", "42").Value.String())
	require.Equal(t, "", MaskField("share", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "request_id")
	require.Equal(t, RedactedValue, MaskValue("secret"))
}
