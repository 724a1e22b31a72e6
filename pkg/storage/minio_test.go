package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptObjectName(t *testing.T) {
	assert.Equal(t, "scripts/3/abc.py", ScriptObjectName(3, "abc", "Python"))
	assert.Equal(t, "scripts/3/abc.txt", ScriptObjectName(3, "abc", "Code"))
}

func TestPresignedURL(t *testing.T) {
	// 预签名在本地完成，指定 Region 后不会访问服务端
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("ak", "sk", ""),
		Region: "us-east-1",
	})
	require.NoError(t, err)

	store := NewObjectStore(client, "scripts")
	raw, err := store.PresignedURL(context.Background(), "scripts/3/abc.py", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/scripts/scripts/3/abc.py", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
}
