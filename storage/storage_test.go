package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelpanel/config"
)

func TestMasterObjectName(t *testing.T) {
	assert.Equal(t, "masters/55/k1_My_Song.wav", MasterObjectName(55, "k1", "My Song.wav"))
	assert.Equal(t, "masters/0/k2_fallback_filename", MasterObjectName(0, "k2", "???"))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "1.5 KB", formatSize(1536))
	assert.Equal(t, "159.0 MB", formatSize(159*1024*1024))
}

func TestPrintBucketStatus(t *testing.T) {
	stats := &BucketStats{ByType: map[string]int64{}}
	objects := []ObjectInfo{
		{Key: "masters/55/a_intro.wav", Size: 2048},
		{Key: "masters/55/b_outro.wav", Size: 1024},
		{Key: "readme.pdf", Size: 10},
	}
	for _, o := range objects {
		stats.add(o.Key, o.Size, time.Time{})
	}

	var buf bytes.Buffer
	PrintBucketStatus(&buf, "labelpanel-masters", "", objects, stats)
	out := buf.String()

	assert.Contains(t, out, "总文件数: 3")
	assert.Contains(t, out, "audio: 3.0 KB")
	assert.Contains(t, out, "📁 masters/55/")
	assert.Contains(t, out, "📄 a_intro.wav (2.0 KB)")
	assert.Contains(t, out, "📄 readme.pdf (10 B)")
}

// fakeS3 accepts HEAD bucket and PUT object requests.
type fakeS3 struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.puts[r.URL.Path] = body
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestArchiveMaster(t *testing.T) {
	fake := &fakeS3{puts: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a, err := NewArchive(&config.Config{
		MinioEndpoint:  strings.TrimPrefix(srv.URL, "http://"),
		MinioAccessKey: "access",
		MinioSecretKey: "secret",
		MinioBucket:    "labelpanel-masters",
		MinioRegion:    "us-east-1",
	})
	require.NoError(t, err)
	require.NoError(t, a.EnsureBucket(context.Background()))

	src := filepath.Join(t.TempDir(), "upload.tmp")
	require.NoError(t, os.WriteFile(src, []byte("RIFF-master"), 0o644))

	object, err := a.ArchiveMaster(context.Background(), 55, "k1", "Intro.wav", src)
	require.NoError(t, err)
	assert.Equal(t, "masters/55/k1_Intro.wav", object)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	_, ok := fake.puts["/labelpanel-masters/masters/55/k1_Intro.wav"]
	assert.True(t, ok)
}

func TestDeletePrefix_RequiresPrefix(t *testing.T) {
	a := &Archive{bucket: "b"}
	_, err := a.DeletePrefix(context.Background(), "/")
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}
