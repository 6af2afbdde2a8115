package report

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eunmann/mkbench/pkg/bench"
	"github.com/eunmann/mkbench/pkg/fileutil"
)

func testMeasurement() *bench.Measurement {
	return &bench.Measurement{
		RunID:   "run-1",
		Case:    bench.Update,
		Backend: "pebble",
		Workers: 8,
		Samples: []bench.Sample{
			{Phase: bench.PhaseWarmup, Iteration: 0, Duration: 3 * time.Millisecond},
			{Phase: bench.PhaseMeasured, Iteration: 0, Duration: 2 * time.Millisecond},
			{Phase: bench.PhaseMeasured, Iteration: 1, Duration: time.Millisecond},
		},
	}
}

func TestFromMeasurement(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	records := FromMeasurement(testMeasurement(), at)

	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	r := records[1]
	if r.RunID != "run-1" || r.Case != "update" || r.Backend != "pebble" || r.Workers != 8 {
		t.Errorf("unexpected identity: %+v", r)
	}
	if r.Phase != "measured" || r.Iteration != 0 {
		t.Errorf("phase/iteration = %s/%d", r.Phase, r.Iteration)
	}
	if r.Duration() != 2*time.Millisecond {
		t.Errorf("duration = %v", r.Duration())
	}
	if r.RecordedAt != at.UnixMilli() {
		t.Errorf("recorded_at = %d", r.RecordedAt)
	}
}

func TestWriteReadParquet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.parquet")
	records := FromMeasurement(testMeasurement(), time.Now())

	if err := WriteParquet(path, records); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	if !fileutil.IsNonEmpty(path) {
		t.Fatal("report file is empty")
	}
	if fileutil.Exists(path + ".tmp") {
		t.Error("temporary file left behind")
	}

	got, err := ReadParquet(path)
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("read %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Errorf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
}

func TestWriteParquetEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	if err := WriteParquet(path, nil); !errors.Is(err, ErrEmptyReport) {
		t.Errorf("err = %v, want ErrEmptyReport", err)
	}
	if fileutil.Exists(path) {
		t.Error("empty report should not create a file")
	}
}

type fakePutter struct {
	bucket, key string
	body        []byte
	err         error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.parquet")
	if err := WriteParquet(path, FromMeasurement(testMeasurement(), time.Now())); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
	}{
		{"s3://bench/runs/", "bench", "runs/results.parquet"},
		{"s3://bench", "bench", "results.parquet"},
		{"s3://bench/runs/latest.parquet", "bench", "runs/latest.parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			fake := &fakePutter{}
			dest, err := NewUploaderWithClient(fake).Upload(context.Background(), path, tt.uri)
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if fake.bucket != tt.wantBucket || fake.key != tt.wantKey {
				t.Errorf("put s3://%s/%s, want s3://%s/%s", fake.bucket, fake.key, tt.wantBucket, tt.wantKey)
			}
			if dest != "s3://"+tt.wantBucket+"/"+tt.wantKey {
				t.Errorf("dest = %s", dest)
			}
			if len(fake.body) == 0 {
				t.Error("uploaded body is empty")
			}
		})
	}
}

func TestUploadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.parquet")
	if err := WriteParquet(path, FromMeasurement(testMeasurement(), time.Now())); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	putErr := errors.New("access denied")
	_, err := NewUploaderWithClient(&fakePutter{err: putErr}).Upload(context.Background(), path, "s3://bench/")
	if !errors.Is(err, putErr) {
		t.Errorf("err = %v, want wrapped put error", err)
	}

	if _, err := NewUploaderWithClient(&fakePutter{}).Upload(context.Background(), path, "/local"); err == nil {
		t.Error("expected error for non-S3 destination")
	}

	fake := &fakePutter{}
	missing := filepath.Join(t.TempDir(), "missing.parquet")
	if _, err := NewUploaderWithClient(fake).Upload(context.Background(), missing, "s3://bench/"); err == nil {
		t.Error("expected error for missing report")
	}
	if fake.key != "" {
		t.Error("missing report was uploaded")
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			uri:        "s3://my-bucket/bench/results.parquet",
			wantBucket: "my-bucket",
			wantKey:    "bench/results.parquet",
		},
		{
			uri:        "s3://bucket/key",
			wantBucket: "bucket",
			wantKey:    "key",
		},
		{
			uri:        "s3://bucket-only/",
			wantBucket: "bucket-only",
			wantKey:    "",
		},
		{
			uri:        "s3://bucket",
			wantBucket: "bucket",
			wantKey:    "",
		},
		{
			uri:     "https://bucket/key",
			wantErr: true,
		},
		{
			uri:     "/local/path",
			wantErr: true,
		},
		{
			uri:     "s3://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket {
				t.Errorf("bucket = %q, want %q", bucket, tt.wantBucket)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}
