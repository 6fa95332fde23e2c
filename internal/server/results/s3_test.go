package results

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sc "github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCfg() *sc.Config {
	return &sc.Config{
		S3Region:       "us-east-1",
		S3RootUser:     "minioadmin",
		S3RootPassword: "minioadmin",
		S3BaseEndpoint: "http://127.0.0.1:9000",
		S3Bucket:       "deobf",
		PresignTTL:     5 * time.Minute,
	}
}

func stubSeams(t *testing.T) {
	t.Helper()
	origLoad, origNew, origPre, origPut, origGet := loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient, putObject, presignGetObject
	t.Cleanup(func() {
		loadDefaultAWSConfig, newS3ClientFromConfig, newS3PresignClient, putObject, presignGetObject = origLoad, origNew, origPre, origPut, origGet
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		assert.Equal(t, "us-east-1", lo.Region)
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		require.NotNil(t, opts.BaseEndpoint)
		assert.Equal(t, "http://127.0.0.1:9000", *opts.BaseEndpoint)
		assert.True(t, opts.UsePathStyle)
		return &s3.Client{}
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient { return &s3.PresignClient{} }
}

func TestNewS3Store_ConfigError(t *testing.T) {
	stubSeams(t)
	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no creds")
	}

	_, err := NewS3Store(context.Background(), testCfg())
	assert.ErrorContains(t, err, "no creds")
}

func TestArchive_Success(t *testing.T) {
	stubSeams(t)

	var gotKey, gotBody string
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		assert.Equal(t, "deobf", *in.Bucket)
		gotKey = *in.Key
		b, err := io.ReadAll(in.Body)
		require.NoError(t, err)
		gotBody = string(b)
		assert.EqualValues(t, len(b), *in.ContentLength)
		return &s3.PutObjectOutput{}, nil
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		var po s3.PresignOptions
		for _, fn := range optFns {
			fn(&po)
		}
		assert.Equal(t, 5*time.Minute, po.Expires)
		return &v4.PresignedHTTPRequest{URL: "http://signed/" + *in.Key}, nil
	}

	store, err := NewS3Store(context.Background(), testCfg())
	require.NoError(t, err)

	url, err := store.Archive(context.Background(), "results/k.lua", []byte("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, "http://signed/results/k.lua", url)
	assert.Equal(t, "results/k.lua", gotKey)
	assert.Equal(t, "print(1)", gotBody)
}

func TestArchive_Errors(t *testing.T) {
	stubSeams(t)

	putObject = func(*s3.Client, context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return nil, errors.New("bucket missing")
	}
	store, err := NewS3Store(context.Background(), testCfg())
	require.NoError(t, err)

	_, err = store.Archive(context.Background(), "k", nil)
	assert.ErrorContains(t, err, "put object: bucket missing")

	putObject = func(*s3.Client, context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return &s3.PutObjectOutput{}, nil
	}
	presignGetObject = func(*s3.PresignClient, context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return nil, errors.New("sign failed")
	}
	_, err = store.Archive(context.Background(), "k", nil)
	assert.ErrorContains(t, err, "presign get: sign failed")
}

func TestKey(t *testing.T) {
	now := time.Date(2025, 2, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "results/2025/02/07/req/out.lua", Key(now, "req", "out.lua"))
}
