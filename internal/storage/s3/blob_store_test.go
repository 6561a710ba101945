package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		f.body = string(data)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
}

func TestPutObjectSendsBucketKeyAndLength(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store, err := NewWithClient(api, "models")
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "out/a/b.png", "image/png", strings.NewReader("png!"), 4)
	require.NoError(t, err)

	assert.Equal(t, "s3://models/out/a/b.png", uri)
	assert.Equal(t, "models", aws.ToString(api.input.Bucket))
	assert.Equal(t, "out/a/b.png", aws.ToString(api.input.Key))
	assert.Equal(t, int64(4), aws.ToInt64(api.input.ContentLength))
	assert.Equal(t, "image/png", aws.ToString(api.input.ContentType))
	assert.Equal(t, "png!", api.body)
}

func TestPutObjectOmitsEmptyContentType(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store, err := NewWithClient(api, "models")
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "k", "", strings.NewReader(""), 0)
	require.NoError(t, err)
	assert.Nil(t, api.input.ContentType)
}

func TestPutObjectWrapsClientError(t *testing.T) {
	t.Parallel()

	denied := errors.New("access denied")
	store, err := NewWithClient(&fakeAPI{err: denied}, "models")
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "out/x", "", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, denied)
	assert.Contains(t, err.Error(), "out/x")
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := NewWithClient(nil, "b")
	require.Error(t, err)
	_, err = NewWithClient(&fakeAPI{}, " ")
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)

	store, err := New(context.Background(), Config{
		Endpoint:   "http://127.0.0.1:9000",
		AccessKey:  "ak",
		SecretKey:  "sk",
		Bucket:     "models",
		MaxRetries: 2,
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader(""), 0)
	require.Error(t, err)
}
