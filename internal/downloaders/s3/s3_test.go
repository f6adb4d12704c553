package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/tanq16/vidzo/internal/progress"
	"github.com/tanq16/vidzo/internal/utils"
)

const objSize = 200 * 1024

type fakeS3 struct {
	objects map[string][]byte

	mu     sync.Mutex
	ranges []string
}

func newFakeS3(objects map[string][]byte) *fakeS3 {
	return &fakeS3{objects: objects}
}

func notFound() error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("NoSuchKey"),
		},
	}
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, notFound()
	}
	rng := aws.ToString(in.Range)
	f.mu.Lock()
	f.ranges = append(f.ranges, rng)
	f.mu.Unlock()
	start, end := int64(0), int64(len(data)-1)
	if spec, ok := strings.CutPrefix(rng, "bytes="); ok {
		startStr, endStr, _ := strings.Cut(spec, "-")
		start, _ = strconv.ParseInt(startStr, 10, 64)
		if endStr != "" {
			end, _ = strconv.ParseInt(endStr, 10, 64)
		}
	}
	end = min(end, int64(len(data)-1))
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[start : end+1]))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if in.MaxKeys != nil {
		keys = keys[:min(len(keys), int(*in.MaxKeys))]
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func objectData(seed int) []byte {
	data := make([]byte, objSize)
	for i := range data {
		data[i] = byte((i + seed*31) % 253)
	}
	return data
}

func testJob(t *testing.T, fake *fakeS3, url string) (*S3Downloader, *utils.VidzoJob) {
	t.Helper()
	d := &S3Downloader{newClient: func(context.Context, string, string) (s3API, error) { return fake, nil }}
	job := &utils.VidzoJob{
		URL:         url,
		Connections: 4,
		ChunkSize:   64 * 1024,
		MaxRetries:  2,
		Metadata:    map[string]any{"outputDir": t.TempDir()},
	}
	return d, job
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://bucket/path/to/file.mp4", "bucket", "path/to/file.mp4", false},
		{"s3://bucket", "bucket", "", false},
		{"s3://bucket/folder/", "bucket", "folder/", false},
		{"s3://", "", "", true},
		{"https://bucket/key", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := parseS3URL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseS3URL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || key != tt.key {
			t.Errorf("parseS3URL(%q) = %q, %q; want %q, %q", tt.url, bucket, key, tt.bucket, tt.key)
		}
	}
}

func TestValidateJobInvalidURL(t *testing.T) {
	d := &S3Downloader{}
	for _, url := range []string{"s3://", "https://bucket/key"} {
		err := d.ValidateJob(&utils.VidzoJob{URL: url})
		if utils.KindOf(err) != utils.KindInvalidInput {
			t.Errorf("ValidateJob(%q) = %v, want invalid input", url, err)
		}
	}
}

func TestSourceRanges(t *testing.T) {
	data := objectData(1)
	fake := newFakeS3(map[string][]byte{"clip.mp4": data})
	src := NewSource(fake, "bucket", "clip.mp4")

	info := src.Probe(context.Background())
	if info.TotalSize != objSize || !info.SupportsRanges {
		t.Fatalf("Probe() = %+v", info)
	}
	body, err := src.Open(context.Background(), 10, 19)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	got, _ := io.ReadAll(body)
	body.Close()
	if !bytes.Equal(got, data[10:20]) {
		t.Errorf("Open(10, 19) returned wrong bytes")
	}
	if src.Location() != "s3://bucket/clip.mp4" {
		t.Errorf("Location() = %q", src.Location())
	}

	missing := NewSource(fake, "bucket", "nope")
	if info := missing.Probe(context.Background()); info.TotalSize != -1 {
		t.Errorf("Probe() on missing object = %+v", info)
	}
	_, err = missing.Open(context.Background(), 0, utils.OpenEnded)
	if utils.KindOf(err) != utils.KindClient {
		t.Errorf("Open() on missing object kind = %v, want client", utils.KindOf(err))
	}
}

func TestDownloadObject(t *testing.T) {
	data := objectData(2)
	fake := newFakeS3(map[string][]byte{"videos/clip.mp4": data})
	d, job := testJob(t, fake, "s3://bucket/videos/clip.mp4")
	var last progress.Snapshot
	job.ProgressFunc = func(s progress.Snapshot) { last = s }

	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error: %v", err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob() error: %v", err)
	}
	if filepath.Base(job.OutputPath) != "clip.mp4" {
		t.Errorf("OutputPath = %q", job.OutputPath)
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded object does not match")
	}
	if len(fake.ranges) != 4 {
		t.Errorf("got %d ranged GETs, want 4: %v", len(fake.ranges), fake.ranges)
	}
	if last.Downloaded != objSize || !last.Complete {
		t.Errorf("final progress = %+v", last)
	}
}

func TestDownloadFolder(t *testing.T) {
	objects := map[string][]byte{
		"media/a.mp4":     objectData(3),
		"media/sub/b.mp4": objectData(4),
		"other/c.mp4":     objectData(5),
	}
	fake := newFakeS3(objects)
	d, job := testJob(t, fake, "s3://bucket/media/")
	var mu sync.Mutex
	var last progress.Snapshot
	job.ProgressFunc = func(s progress.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if s.Downloaded < last.Downloaded {
			t.Errorf("folder progress went backwards: %d -> %d", last.Downloaded, s.Downloaded)
		}
		last = s
	}

	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error: %v", err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob() error: %v", err)
	}
	if job.Metadata["fileType"] != "folder" {
		t.Fatalf("fileType = %v, want folder", job.Metadata["fileType"])
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	for key, rel := range map[string]string{"media/a.mp4": "a.mp4", "media/sub/b.mp4": filepath.Join("sub", "b.mp4")} {
		got, err := os.ReadFile(filepath.Join(job.OutputPath, rel))
		if err != nil {
			t.Fatalf("missing %s: %v", rel, err)
		}
		if !bytes.Equal(got, objects[key]) {
			t.Errorf("%s does not match", rel)
		}
	}
	if utils.FileExists(filepath.Join(job.OutputPath, "c.mp4")) {
		t.Error("object outside the prefix was downloaded")
	}
	if last.Downloaded != 2*objSize {
		t.Errorf("folder progress ended at %d, want %d", last.Downloaded, 2*objSize)
	}
}

func TestBuildJobMissingObject(t *testing.T) {
	fake := newFakeS3(map[string][]byte{})
	d, job := testJob(t, fake, "s3://bucket/nothing.mp4")
	if err := d.ValidateJob(job); err != nil {
		t.Fatal(err)
	}
	err := d.BuildJob(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("BuildJob() error = %v, want not found", err)
	}
}

func TestAggregate(t *testing.T) {
	var snaps []progress.Snapshot
	agg := newAggregate(300, func(s progress.Snapshot) { snaps = append(snaps, s) })
	agg.update("a", progress.Snapshot{Downloaded: 100})
	agg.update("b", progress.Snapshot{Downloaded: 50})
	agg.update("a", progress.Snapshot{Downloaded: 150})
	if got := snaps[len(snaps)-1].Downloaded; got != 200 {
		t.Errorf("aggregate = %d, want 200", got)
	}
	if got := fmt.Sprintf("%.1f", snaps[len(snaps)-1].Percentage()); got != "66.7" {
		t.Errorf("Percentage() = %s", got)
	}
}

func TestAggregateConcurrentUpdates(t *testing.T) {
	const objects, steps = 8, 50
	var snaps []progress.Snapshot
	agg := newAggregate(objects*steps*10, func(s progress.Snapshot) { snaps = append(snaps, s) })

	var wg sync.WaitGroup
	for i := range objects {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := strconv.Itoa(i)
			for n := 1; n <= steps; n++ {
				agg.update(key, progress.Snapshot{Downloaded: int64(n * 10)})
			}
		}()
	}
	wg.Wait()

	if len(snaps) != objects*steps {
		t.Fatalf("got %d snapshots, want %d", len(snaps), objects*steps)
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Downloaded < snaps[i-1].Downloaded {
			t.Fatalf("snapshot %d went backwards: %d after %d", i, snaps[i].Downloaded, snaps[i-1].Downloaded)
		}
	}
	if got := snaps[len(snaps)-1].Downloaded; got != objects*steps*10 {
		t.Errorf("final aggregate = %d, want %d", got, objects*steps*10)
	}
}
