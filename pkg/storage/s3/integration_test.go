//go:build integration
// +build integration

package s3

import (
	"context"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFs_Integration runs the filesystem against a real S3-compatible
// service (Localstack).
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./pkg/storage/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestFs_Integration(t *testing.T) {
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			"test", "test", "",
		)),
	)
	require.NoError(t, err)

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true // Required for Localstack
	})

	bucketName := "ftpvita-test-bucket"
	_, err = client.CreateBucket(ctx, &awss3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	require.NoError(t, err)

	defer func() {
		listResp, _ := client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket: aws.String(bucketName),
		})
		if listResp != nil {
			for _, obj := range listResp.Contents {
				client.DeleteObject(ctx, &awss3.DeleteObjectInput{
					Bucket: aws.String(bucketName),
					Key:    obj.Key,
				})
			}
		}
		client.DeleteBucket(ctx, &awss3.DeleteBucketInput{
			Bucket: aws.String(bucketName),
		})
	}()

	fs, err := New(ctx, Options{Client: client, Bucket: bucketName, KeyPrefix: "vita"})
	require.NoError(t, err)

	t.Run("WriteReadRoundTrip", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello s3"), 0o644))

		got, err := afero.ReadFile(fs, "/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("hello s3"), got)

		fi, err := fs.Stat("/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(8), fi.Size())
		assert.False(t, fi.IsDir())
	})

	t.Run("MkdirExistingDirFails", func(t *testing.T) {
		require.NoError(t, fs.Mkdir("/photos", 0o755))

		err := fs.Mkdir("/photos", 0o755)
		require.Error(t, err)
		assert.True(t, os.IsExist(err))
	})

	t.Run("MkdirOverFileFails", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/notes.txt", []byte("x"), 0o644))

		err := fs.Mkdir("/notes.txt", 0o755)
		require.Error(t, err)
		assert.True(t, os.IsExist(err))
	})

	t.Run("MkdirAllToleratesExisting", func(t *testing.T) {
		require.NoError(t, fs.MkdirAll("/a/b/c", 0o755))
		require.NoError(t, fs.MkdirAll("/a/b/c", 0o755))

		isDir, err := afero.DirExists(fs, "/a/b/c")
		require.NoError(t, err)
		assert.True(t, isDir)
	})

	t.Run("ListDirectChildren", func(t *testing.T) {
		require.NoError(t, fs.Mkdir("/music", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/music/track1.mp3", []byte("a"), 0o644))
		require.NoError(t, fs.Mkdir("/music/covers", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/music/covers/front.png", []byte("b"), 0o644))

		dir, err := fs.Open("/music")
		require.NoError(t, err)
		infos, err := dir.Readdir(-1)
		require.NoError(t, err)
		require.NoError(t, dir.Close())

		names := make([]string, 0, len(infos))
		for _, fi := range infos {
			names = append(names, fi.Name())
		}
		assert.ElementsMatch(t, []string{"track1.mp3", "covers"}, names)
	})

	t.Run("RemoveAndRename", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/old.bin", []byte("payload"), 0o644))
		require.NoError(t, fs.Rename("/old.bin", "/new.bin"))

		_, err := fs.Stat("/old.bin")
		assert.True(t, os.IsNotExist(err))

		got, err := afero.ReadFile(fs, "/new.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), got)

		require.NoError(t, fs.Remove("/new.bin"))
		_, err = fs.Stat("/new.bin")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("RemoveNonEmptyDirFails", func(t *testing.T) {
		require.NoError(t, fs.Mkdir("/full", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/full/file.txt", []byte("x"), 0o644))

		assert.Error(t, fs.Remove("/full"))
		require.NoError(t, fs.RemoveAll("/full"))

		isDir, err := afero.DirExists(fs, "/full")
		require.NoError(t, err)
		assert.False(t, isDir)
	})
}
