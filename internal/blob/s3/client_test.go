package s3blob

import (
	"context"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		endpoint string
		useSSL   bool
		want     string
	}{
		{"keeps scheme", "http://localhost:9000", true, "http://localhost:9000"},
		{"adds https", "s3.example.com", true, "https://s3.example.com"},
		{"adds http", "minio:9000", false, "http://minio:9000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			check.Equal(t, tc.want, normaliseEndpoint(tc.endpoint, tc.useSSL))
		})
	}
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	check.Error(t, err)

	_, err = New(context.Background(), ClientConfig{Bucket: "archives"})
	check.Error(t, err)
}

func TestNewWriterClampsPartSize(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "archives",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		ForcePathStyle: true,
	})
	check.NoError(t, err)
	check.Equal(t, "archives", c.Bucket())

	w := NewWriter(c, 1024)
	check.Equal(t, minPartSize, w.uploader.PartSize)
}
