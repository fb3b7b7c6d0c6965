package s3archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/financebee/app/models"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "ledger"}
	at := time.Date(2025, 2, 3, 4, 5, 6, 7, time.UTC)
	assert.Equal(t, "ledger/2025/02/03/1738555506000000007.jsonl", cfg.ObjectKey(at))
}

func TestArchive_WritesJSONLines(t *testing.T) {
	putter := &fakePutter{}
	at := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	c := &Client{s3: putter, config: &Config{BucketName: "archive", Prefix: "ledger"}, now: func() time.Time { return at }}

	rows := []models.ProcessedEvent{
		{EventID: "evt_1", EventType: "checkout_completed", State: models.ProcessedEventStateCommitted, ResultSummary: "activated S1"},
		{EventID: "evt_2", EventType: "unknown", State: models.ProcessedEventStateCommitted, ResultSummary: "ignored"},
	}

	key, err := c.Archive(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, cfgKey(at), key)
	assert.Equal(t, "archive", aws.ToString(putter.input.Bucket))
	assert.Equal(t, key, aws.ToString(putter.input.Key))

	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(putter.body))
	for scanner.Scan() {
		var row models.ProcessedEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		ids = append(ids, row.EventID)
	}
	assert.Equal(t, []string{"evt_1", "evt_2"}, ids)
}

func TestArchive_EmptyIsNoop(t *testing.T) {
	putter := &fakePutter{}
	c := &Client{s3: putter, config: &Config{BucketName: "archive", Prefix: "ledger"}, now: time.Now}

	key, err := c.Archive(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Nil(t, putter.input)
}

func TestArchive_UploadError(t *testing.T) {
	c := &Client{s3: &fakePutter{err: errors.New("503 slow down")}, config: &Config{BucketName: "b", Prefix: "p"}, now: time.Now}

	_, err := c.Archive(context.Background(), []models.ProcessedEvent{{EventID: "evt_1"}})
	assert.Error(t, err)
}

func cfgKey(at time.Time) string {
	return (&Config{Prefix: "ledger"}).ObjectKey(at)
}
