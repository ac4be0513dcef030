package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-crawler/internal/publisher/memory"
)

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]string{" Alice ": "alice@example.com", "empty": ""})
	addr, err := r.Resolve("alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", addr)

	_, err = r.Resolve("bob")
	require.ErrorIs(t, err, ErrUnknownRecipient)
	_, err = r.Resolve("empty")
	require.ErrorIs(t, err, ErrUnknownRecipient)

	var nilRegistry *Registry
	_, err = nilRegistry.Resolve("alice")
	require.ErrorIs(t, err, ErrUnknownRecipient)
}

func TestNotifyAsyncPublishes(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	n := New(pub, NewRegistry(map[string]string{"alice": "alice@example.com"}), Config{Topic: "crawl-reports"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	n.NotifyAsync(ctx, "alice", Notice{CrawlID: "c1", ReportURI: "memory://reports/x.html", RecordCount: 5, Digest: "abc"})
	cancel()
	n.Wait()

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "crawl-reports", msgs[0].Topic)
	require.Equal(t, map[string]string{"crawl_id": "c1", "report_sha256": "abc"}, msgs[0].Attributes)
	require.Equal(t, Message{
		CrawlID:     "c1",
		Address:     "alice@example.com",
		ReportURI:   "memory://reports/x.html",
		RecordCount: 5,
	}, msgs[0].Payload)
}

func TestNotifyAsyncLogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	pub := memory.New()
	pub.FailWith(errors.New("broker down"))
	n := New(pub, NewRegistry(map[string]string{"alice": "a@example.com"}), Config{Topic: "t"}, zap.New(core))

	n.NotifyAsync(context.Background(), "alice", Notice{CrawlID: "c1"})
	n.NotifyAsync(context.Background(), "mallory", Notice{CrawlID: "c2"})
	n.Wait()

	require.Equal(t, 2, logs.FilterMessage("notification failed").Len())
	require.Empty(t, pub.Messages())
}

func TestNotifyAsyncAfterWaitIsDropped(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	pub := memory.New()
	n := New(pub, NewRegistry(map[string]string{"alice": "a@example.com"}), Config{Topic: "t"}, zap.New(core))

	n.Wait()
	n.NotifyAsync(context.Background(), "alice", Notice{CrawlID: "late"})
	n.Wait()

	require.Empty(t, pub.Messages())
	require.Equal(t, 1, logs.FilterMessage("notifier closed; notification dropped").Len())
}

func TestNotifyAsyncConcurrentWithWait(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	n := New(pub, NewRegistry(map[string]string{"alice": "a@example.com"}), Config{Topic: "t"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.NotifyAsync(context.Background(), "alice", Notice{CrawlID: "c"})
		}()
	}
	n.Wait()
	wg.Wait()
	n.Wait()

	require.LessOrEqual(t, len(pub.Messages()), 20)
}

func TestNotifyWithoutPublisher(t *testing.T) {
	t.Parallel()

	n := New(nil, NewRegistry(map[string]string{"alice": "a@example.com"}), Config{}, nil)
	err := n.Notify(context.Background(), "alice", Notice{CrawlID: "c1"})
	require.ErrorContains(t, err, "not configured")
}
