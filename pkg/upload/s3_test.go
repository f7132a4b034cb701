package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ethpandaops/grasshopper/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
	corrupt bool
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeObjectAPI) PutObject(
	_ context.Context,
	params *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.ToString(params.Key)] = data
	f.types[aws.ToString(params.Key)] = aws.ToString(params.ContentType)

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) GetObject(
	_ context.Context,
	params *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}

	if f.corrupt {
		data = []byte("something else")
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newTestUploader(prefix string, api objectAPI) *s3Uploader {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return &s3Uploader{
		log:    log,
		cfg:    &config.S3UploadConfig{Bucket: "reports", Prefix: prefix},
		client: api,
	}
}

func TestResolvePrefix(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		runID  string
		want   string
	}{
		{
			name:   "default prefix",
			prefix: "",
			runID:  "0b7c6f0e-2f1c-4a59-9a55-6a0d8f1f2b11",
			want:   "grasshopper/runs/0b7c6f0e-2f1c-4a59-9a55-6a0d8f1f2b11",
		},
		{
			name:   "custom prefix",
			prefix: "ci/cpu",
			runID:  "run-1",
			want:   "ci/cpu/run-1",
		},
		{
			name:   "trailing slash stripped",
			prefix: "ci/cpu/",
			runID:  "run-2",
			want:   "ci/cpu/run-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{
				cfg: &config.S3UploadConfig{Prefix: tt.prefix},
			}
			assert.Equal(t, tt.want, u.resolvePrefix(tt.runID))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{name: "json file", path: "runs/abc/report.json", wantPrefix: "application/json"},
		{name: "txt file", path: "runs/abc/summary.txt", wantPrefix: "text/plain"},
		{name: "no extension", path: "runs/abc/raw", wantPrefix: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestUploadReport(t *testing.T) {
	api := newFakeObjectAPI()
	u := newTestUploader("ci", api)

	keys, err := u.UploadReport(context.Background(), "run-9", map[string][]byte{
		"summary.txt": []byte("ok"),
		"report.json": []byte(`{"id":"run-9"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"ci/run-9/report.json", "ci/run-9/summary.txt"}, keys)
	assert.JSONEq(t, `{"id":"run-9"}`, string(api.objects["ci/run-9/report.json"]))
	assert.Contains(t, api.types["ci/run-9/report.json"], "application/json")

	_, err = u.UploadReport(context.Background(), "", nil)
	require.Error(t, err)
}

func TestUploadReport_PutFailure(t *testing.T) {
	api := newFakeObjectAPI()
	api.putErr = errors.New("access denied")

	u := newTestUploader("", api)

	keys, err := u.UploadReport(context.Background(), "run-1", map[string][]byte{
		"report.json": []byte("{}"),
	})
	require.Error(t, err)
	assert.Empty(t, keys)
	assert.Contains(t, err.Error(), "access denied")
}

func TestPreflight(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		api := newFakeObjectAPI()
		u := newTestUploader("ci/", api)

		require.NoError(t, u.Preflight(context.Background()))
		assert.Contains(t, api.objects, "ci/"+preflightKey)
	})

	t.Run("write rejected", func(t *testing.T) {
		api := newFakeObjectAPI()
		api.putErr = errors.New("no such bucket")

		err := newTestUploader("", api).Preflight(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "writing test object")
	})

	t.Run("read back mismatch", func(t *testing.T) {
		api := newFakeObjectAPI()
		api.corrupt = true

		err := newTestUploader("", api).Preflight(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{})
	require.Error(t, err)

	u, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{
		Bucket:         "reports",
		EndpointURL:    "http://127.0.0.1:9000",
		ForcePathStyle: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, u)
}
