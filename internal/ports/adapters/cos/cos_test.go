package cos

import (
	"bytes"
	"context"
	"errors"
	"hash/crc64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/forPelevin/clipper/internal/ports"
)

// fakeBucket answers the subset of the COS object API the store uses.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut int
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		if b.failPut > 0 {
			b.failPut--
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`<Error><Code>ServiceUnavailable</Code><Message>busy</Message></Error>`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		b.objects[key] = body
		b.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("x-cos-hash-crc64ecma", crc(body))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
			return
		}
		w.Header().Set("x-cos-hash-crc64ecma", crc(body))
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func crc(b []byte) string {
	return strconv.FormatUint(crc64.Checksum(b, crc64.MakeTable(crc64.ECMA)), 10)
}

func TestStore(t *testing.T) {
	convey.Convey("cos store against a fake bucket", t, func() {
		bucket := &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
		srv := httptest.NewServer(bucket)
		defer srv.Close()

		store, err := New(Config{BucketURL: srv.URL, SecretID: "id", SecretKey: "key"})
		convey.So(err, convey.ShouldBeNil)
		ctx := context.Background()

		convey.Convey("put then get round-trips bytes", func() {
			payload := []byte(`[{"start":1,"end":40}]`)
			err := store.Put(ctx, "videos/a.mp4.moments.json", bytes.NewReader(payload), int64(len(payload)), "application/json")
			convey.So(err, convey.ShouldBeNil)
			convey.So(bucket.types["videos/a.mp4.moments.json"], convey.ShouldEqual, "application/json")

			rc, err := store.Get(ctx, "videos/a.mp4.moments.json")
			convey.So(err, convey.ShouldBeNil)
			got, _ := io.ReadAll(rc)
			_ = rc.Close()
			convey.So(string(got), convey.ShouldEqual, string(payload))
		})

		convey.Convey("missing keys map to ErrNotFound", func() {
			_, err := store.Get(ctx, "nope.json")
			convey.So(errors.Is(err, ports.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("seekable puts are retried", func() {
			bucket.failPut = 2
			err := store.Put(ctx, "k", bytes.NewReader([]byte("v")), 1, "text/plain")
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(bucket.objects["k"]), convey.ShouldEqual, "v")
		})

		convey.Convey("upload and download go through files", func() {
			dir := t.TempDir()
			src := filepath.Join(dir, "clip.mp4")
			convey.So(os.WriteFile(src, []byte("mp4 bytes"), 0o644), convey.ShouldBeNil)
			convey.So(store.Upload(ctx, "videos/clip_0.mp4", src, "video/mp4"), convey.ShouldBeNil)

			dst := filepath.Join(dir, "nested", "copy.mp4")
			convey.So(store.Download(ctx, "videos/clip_0.mp4", dst), convey.ShouldBeNil)
			got, err := os.ReadFile(dst)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(got), convey.ShouldEqual, "mp4 bytes")
		})
	})
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(Config{BucketURL: "bucket-only"}); err == nil {
		t.Fatal("expected error for a bucket url without scheme and host")
	}
}
