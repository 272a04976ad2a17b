package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIndexIntegrity(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(t *testing.T, path string)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "non-existent path is valid",
			setup:     func(t *testing.T, path string) {},
			wantError: false,
		},
		{
			name: "valid index is valid",
			setup: func(t *testing.T, path string) {
				require.NoError(t, os.MkdirAll(path, 0755))
				meta := `{"storage":"scorch","index_type":"upside_down"}`
				require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte(meta), 0644))
			},
			wantError: false,
		},
		{
			name: "empty meta is corrupt",
			setup: func(t *testing.T, path string) {
				require.NoError(t, os.MkdirAll(path, 0755))
				require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte{}, 0644))
			},
			wantError: true,
			errorMsg:  "empty",
		},
		{
			name: "invalid JSON is corrupt",
			setup: func(t *testing.T, path string) {
				require.NoError(t, os.MkdirAll(path, 0755))
				require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte(`{invalid`), 0644))
			},
			wantError: true,
			errorMsg:  "corrupt",
		},
		{
			name: "missing meta in existing dir is corrupt",
			setup: func(t *testing.T, path string) {
				require.NoError(t, os.MkdirAll(path, 0755))
			},
			wantError: true,
			errorMsg:  "missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, "test.bleve")

			tt.setup(t, path)

			err := validateIndexIntegrity(path)

			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIsCorruptionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "unexpected end of JSON",
			err:      fmt.Errorf("error parsing mapping JSON: unexpected end of JSON input"),
			expected: true,
		},
		{
			name:     "failed to load segment",
			err:      fmt.Errorf("unable to load snapshot, failed to load segment: error"),
			expected: true,
		},
		{
			name:     "error opening bolt",
			err:      fmt.Errorf("error opening bolt segment: file not found"),
			expected: true,
		},
		{
			name:     "no such file or directory",
			err:      fmt.Errorf("open /path/file.zap: no such file or directory"),
			expected: true,
		},
		{
			name:     "normal error",
			err:      fmt.Errorf("connection refused"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isCorruptionError(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCreateIndexMapping_RegistersCodeAnalyzer(t *testing.T) {
	m, err := createIndexMapping()
	require.NoError(t, err)
	assert.Equal(t, CodeAnalyzerName, m.DefaultAnalyzer)
}
