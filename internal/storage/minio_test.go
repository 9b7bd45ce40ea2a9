package storage

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectName(t *testing.T) {
	tests := []struct {
		prefix string
		file   string
		want   string
	}{
		{"", "data/backups/backup_20260303_120000.db", "backup_20260303_120000.db"},
		{"eyeclinic", "data/backups/backup_20260303_120000.db", "eyeclinic/backup_20260303_120000.db"},
		{"eyeclinic/daily/", "/tmp/backup_1.db", "eyeclinic/daily/backup_1.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ObjectName(tt.prefix, tt.file))
	}
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	logger := zerolog.New(io.Discard)
	_, err := NewMinioStore(context.Background(), MinioConfig{Endpoint: "localhost:9000"}, &logger)
	require.Error(t, err)
}
