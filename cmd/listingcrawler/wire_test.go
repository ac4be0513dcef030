package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/browser/headless"
	"github.com/JakeFAU/listing-crawler/internal/browser/paged"
	"github.com/JakeFAU/listing-crawler/internal/clock/system"
	"github.com/JakeFAU/listing-crawler/internal/config"
	memorypublisher "github.com/JakeFAU/listing-crawler/internal/publisher/memory"
	"github.com/JakeFAU/listing-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/listing-crawler/internal/storage/memory"
)

func TestBuildBrowserSelectsBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Crawler.Backend = config.BackendPaged
	b, err := buildBrowser(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &paged.Browser{}, b)

	cfg.Crawler.Backend = config.BackendHeadless
	cfg.Headless.MaxParallel = 1
	b, err = buildBrowser(cfg, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, &headless.Browser{}, b)

	cfg.Crawler.Backend = "carrier-pigeon"
	_, err = buildBrowser(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestBuildStoresDefaultToMemory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := config.Config{}

	store, closeStore, err := buildResultStore(ctx, cfg, system.New(), zap.NewNop())
	require.NoError(t, err)
	defer closeStore()
	require.IsType(t, &memoryStorage.ResultStore{}, store)

	blobs, err := buildBlobStore(ctx, cfg)
	require.NoError(t, err)
	require.IsType(t, &memoryStorage.BlobStore{}, blobs)

	cfg.Storage.Backend = "local"
	cfg.Storage.BaseDir = t.TempDir()
	blobs, err = buildBlobStore(ctx, cfg)
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, blobs)

	pub, stopPub, err := buildPublisher(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer stopPub()
	require.IsType(t, &memorypublisher.Publisher{}, pub)
}
