package archivestore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/signflow/internal/errs"
)

func TestDir_Put(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	d := NewDir(root)

	loc, err := d.Put(context.Background(), "env-1/signed.zip", []byte("PK"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "env-1", "signed.zip"), loc)
	b, err := os.ReadFile(loc)
	require.NoError(t, err)
	require.Equal(t, "PK", string(b))

	for _, key := range []string{"", "../x.zip", "a/../../x.zip", "/etc/x.zip"} {
		_, err := d.Put(context.Background(), key, []byte("PK"))
		require.ErrorIs(t, err, errs.ErrValidation, key)
	}
}

type fakePutter struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3_Put(t *testing.T) {
	t.Parallel()
	fp := &fakePutter{}
	s := NewS3WithClient(fp, "archives")

	loc, err := s.Put(context.Background(), "/signed/env-1.zip", []byte("PKzip"))
	require.NoError(t, err)
	require.Equal(t, "s3://archives/signed/env-1.zip", loc)
	require.Equal(t, "archives", aws.ToString(fp.in.Bucket))
	require.Equal(t, "signed/env-1.zip", aws.ToString(fp.in.Key))
	require.Equal(t, "application/zip", aws.ToString(fp.in.ContentType))
	require.Equal(t, int64(5), aws.ToInt64(fp.in.ContentLength))
	require.Equal(t, "PKzip", string(fp.body))

	_, err = s.Put(context.Background(), "", []byte("x"))
	require.ErrorIs(t, err, errs.ErrValidation)

	fp.err = errors.New("access denied")
	_, err = s.Put(context.Background(), "k", []byte("x"))
	require.ErrorContains(t, err, "access denied")
}

func TestS3_PutOverHTTP(t *testing.T) {
	t.Parallel()
	var gotPath, gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(ts.URL),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider("key", "secret", ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		HTTPClient:                 ts.Client(),
	})
	loc, err := NewS3WithClient(client, "bucket").Put(context.Background(), "envs/e1.zip", []byte("archive-bytes"))
	require.NoError(t, err)
	require.Equal(t, "s3://bucket/envs/e1.zip", loc)
	require.Equal(t, "/bucket/envs/e1.zip", gotPath)
	require.Equal(t, "archive-bytes", gotBody)
}

func TestNewS3_LoadsConfig(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var lo config.LoadOptions
	loadDefaultAWSConfig = func(_ context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}

	s, err := NewS3(context.Background(), S3Config{Endpoint: "http://127.0.0.1:9000", AccessKey: "minio", SecretKey: "minio123"}, "b")
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, "us-east-1", lo.Region)
	require.NotNil(t, lo.Credentials)

	_, err = NewS3(context.Background(), S3Config{}, "")
	require.ErrorIs(t, err, errs.ErrValidation)

	loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}
	_, err = NewS3(context.Background(), S3Config{}, "b")
	require.Error(t, err)
}

func TestParseS3URL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://b/k/x.zip", "b", "k/x.zip", true},
		{"s3://b", "b", "", true},
		{"s3:///k", "", "", false},
		{"./out.zip", "", "", false},
	}
	for _, tt := range tests {
		b, k, ok := ParseS3URL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.bucket, b, tt.in)
		assert.Equal(t, tt.key, k, tt.in)
	}
}
