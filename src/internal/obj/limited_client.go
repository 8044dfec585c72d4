package obj

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/pachyderm/seekidx/src/internal/errors"
)

var (
	blockStartedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seekidx",
		Subsystem: "object_storage",
		Name:      "limited_block_start_total",
		Help:      "The number of times a limited operation has started (even if it wouldn't block), by operation name.",
	}, []string{"op"})
	blockedSecondsMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "seekidx",
		Subsystem: "object_storage",
		Name:      "limited_seconds",
		Help:      "Distribution of time spent waiting behind the limitedClient semaphore, by operation name.",
		Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10, 60},
	}, []string{"op"})
)

const limitClientSemCost = 1

var _ Client = &limitedClient{}

// limitedClient is a Client which limits the number of objects open at a time for reading and
// writing respectively.
type limitedClient struct {
	Client
	writersSem *semaphore.Weighted
	readersSem *semaphore.Weighted
}

// NewLimitedClient constructs a Client which will only ever have
//
//	<= maxReaders objects open for reading
//	<= maxWriters objects open for writing
//
// if either is < 1 then that constraint is ignored.
func NewLimitedClient(client Client, maxReaders, maxWriters int) Client {
	if maxReaders < 1 && maxWriters < 1 {
		return client
	}
	if maxReaders < 1 {
		maxReaders = math.MaxInt64
	}
	if maxWriters < 1 {
		maxWriters = math.MaxInt64
	}
	return &limitedClient{
		Client:     client,
		writersSem: semaphore.NewWeighted(int64(maxWriters)),
		readersSem: semaphore.NewWeighted(int64(maxReaders)),
	}
}

func acquire(ctx context.Context, sem *semaphore.Weighted, op string) error {
	blockStartedMetric.WithLabelValues(op).Inc()
	t := time.Now()
	if err := sem.Acquire(ctx, limitClientSemCost); err != nil {
		return errors.EnsureStack(err)
	}
	blockedSecondsMetric.WithLabelValues(op).Observe(time.Since(t).Seconds())
	return nil
}

func (loc *limitedClient) Put(ctx context.Context, name string, r io.Reader) error {
	if err := acquire(ctx, loc.writersSem, "put"); err != nil {
		return err
	}
	defer loc.writersSem.Release(limitClientSemCost)
	return loc.Client.Put(ctx, name, r)
}

func (loc *limitedClient) Get(ctx context.Context, name string, w io.Writer) error {
	if err := acquire(ctx, loc.readersSem, "get"); err != nil {
		return err
	}
	defer loc.readersSem.Release(limitClientSemCost)
	return loc.Client.Get(ctx, name, w)
}
