package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/crewform/pkg/contextkeys"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	file := filepath.Join(t.TempDir(), "audit-20260301T120000.000000000-0001.log")
	content := []byte(`{"event_type":"role.update"}` + "\n")
	require.NoError(t, os.WriteFile(file, content, 0o644))

	putter := &fakePutter{}
	archiver := newS3Archiver(putter, "crewform-audit", "prod")

	require.NoError(t, archiver.Archive(context.Background(), "org-42", file))
	require.Len(t, putter.inputs, 1)

	in := putter.inputs[0]
	assert.Equal(t, "crewform-audit", aws.ToString(in.Bucket))
	assert.Equal(t, "prod/org-42/audit-20260301T120000.000000000-0001.log", aws.ToString(in.Key))
	assert.Equal(t, "application/x-ndjson", aws.ToString(in.ContentType))
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), in.Metadata["checksum-sha256"])
	assert.Equal(t, content, putter.bodies[0])
}

func TestS3Archiver_Errors(t *testing.T) {
	archiver := newS3Archiver(&fakePutter{err: errors.New("access denied")}, "b", "")

	err := archiver.Archive(context.Background(), "global", filepath.Join(t.TempDir(), "missing.log"))
	assert.ErrorContains(t, err, "failed to read rotated trail")

	file := filepath.Join(t.TempDir(), "audit-1.log")
	require.NoError(t, os.WriteFile(file, []byte("{}\n"), 0o644))
	err = archiver.Archive(context.Background(), "global", file)
	assert.ErrorContains(t, err, "access denied")
}

func TestS3Archiver_ObjectKeyWithoutPrefix(t *testing.T) {
	archiver := newS3Archiver(&fakePutter{}, "b", "")
	assert.Equal(t, "org-1/audit-x.log", archiver.ObjectKey("org-1", "/var/log/crewform/audit/org-1/audit-x.log"))
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := NewS3Archiver(context.Background(), S3ArchiveConfig{Region: "us-east-1"})
	assert.Error(t, err)
}

type recordingArchiver struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (r *recordingArchiver) Archive(ctx context.Context, trail, file string) error {
	if _, err := os.Stat(file); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[trail]++
	return r.err
}

func TestFileLogger_ArchivesRotatedTrails(t *testing.T) {
	for _, archiveErr := range []error{nil, errors.New("bucket unreachable")} {
		archiver := &recordingArchiver{calls: map[string]int{}, err: archiveErr}
		logger, err := NewFileLogger(FileLoggerConfig{
			BasePath: t.TempDir(),
			Rotate:   true,
			MaxSize:  64,
			MaxFiles: 100,
			Archiver: archiver,
		})
		require.NoError(t, err)

		ctx := contextkeys.WithOrganizationID(context.Background(), 8)
		for i := 0; i < 4; i++ {
			require.NoError(t, logger.LogDataMutation(ctx, EventTypeRoleUpdate, nil, ResourceTypeRole, "editor", nil, "role updated"))
		}
		require.NoError(t, logger.Close())

		// Every event exceeds MaxSize, so each write after the first rotates
		assert.Equal(t, 3, archiver.calls["org-8"])
	}
}
