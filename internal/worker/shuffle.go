// Shuffle producer and consumer: hash-partitioning a stage's local output
// into P on-disk buckets, and fetching a downstream partition's buckets
// back from every upstream worker with bounded concurrency and retry via
// golang.org/x/sync/errgroup and cenkalti/backoff.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"mini-spark/internal/common"
	"mini-spark/internal/metrics"
	"mini-spark/internal/records"
)

// HashPartition assigns key to one of n destination partitions.
func HashPartition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func shuffleDir(tmpDir, jobID, shuffleID string) string {
	return filepath.Join(tmpDir, "shuffle", jobID, shuffleID)
}

// ShuffleBucketPath is the on-disk path of one (src, dst) bucket, also the
// tail of the GET /shuffle/<job>/<shuffle_id>/<src>/<dst> URL.
func ShuffleBucketPath(tmpDir, jobID, shuffleID string, src, dst int) string {
	return filepath.Join(shuffleDir(tmpDir, jobID, shuffleID), fmt.Sprintf("%d-%d.bin", src, dst))
}

// WriteShuffleBuckets hash-partitions recs by key into numPartitions
// buckets and writes each atomically (write-to-tmp, rename), returning the
// paths written.
func WriteShuffleBuckets(tmpDir, jobID, shuffleID string, recs []records.Record, numPartitions, srcPartition int) ([]string, error) {
	buckets := make([][]records.Record, numPartitions)
	for _, r := range recs {
		key, err := r.Key()
		if err != nil {
			return nil, common.NewError(common.KindMissingKey, err, "shuffle: record has no partition key")
		}
		dst := HashPartition(key, numPartitions)
		buckets[dst] = append(buckets[dst], r)
	}

	dir := shuffleDir(tmpDir, jobID, shuffleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.NewError(common.KindIoError, err, "creating shuffle dir "+dir)
	}

	paths := make([]string, 0, numPartitions)
	for dst := 0; dst < numPartitions; dst++ {
		path := ShuffleBucketPath(tmpDir, jobID, shuffleID, srcPartition, dst)
		if err := writeBucketFile(path, buckets[dst]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeBucketFile(path string, recs []records.Record) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return common.NewError(common.KindIoError, err, "creating "+tmp)
	}
	fw := records.NewWriter(f)
	var written int
	for _, r := range recs {
		if err := fw.Write(r); err != nil {
			f.Close()
			os.Remove(tmp)
			return common.NewError(common.KindIoError, err, "writing shuffle bucket")
		}
		written++
	}
	if err := fw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return common.NewError(common.KindIoError, err, "flushing shuffle bucket")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return common.NewError(common.KindIoError, err, "closing shuffle bucket")
	}
	if info, err := os.Stat(tmp); err == nil {
		metrics.ShuffleBytesWritten.Add(float64(info.Size()))
	}
	return os.Rename(tmp, path)
}

// FetchShuffleInputs fetches every src partition's bucket for dstPartition
// from its producing worker, with up to ShuffleFetchConcurrency in-flight
// requests at once, and concatenates results in ascending src order.
func FetchShuffleInputs(ctx context.Context, client *http.Client, producers map[int]string, jobID, shuffleID string, dstPartition int) ([]records.Record, error) {
	if len(producers) == 0 {
		return nil, nil
	}
	maxSrc := 0
	for src := range producers {
		if src > maxSrc {
			maxSrc = src
		}
	}
	results := make([][]records.Record, maxSrc+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(common.ShuffleFetchConcurrency)
	for src, addr := range producers {
		src, addr := src, addr
		g.Go(func() error {
			recs, err := fetchBucketWithRetry(gctx, client, addr, jobID, shuffleID, src, dstPartition)
			if err != nil {
				return err
			}
			results[src] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []records.Record
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}

func fetchBucketWithRetry(ctx context.Context, client *http.Client, addr, jobID, shuffleID string, src, dst int) ([]records.Record, error) {
	var recs []records.Record
	op := func() error {
		var err error
		recs, err = fetchBucket(ctx, client, addr, jobID, shuffleID, src, dst)
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), common.ShuffleFetchRetries)
	bo = backoff.WithContext(bo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, common.NewError(common.KindFetchFailed, err,
			fmt.Sprintf("fetching shuffle bucket %s/%s/%d/%d from %s", jobID, shuffleID, src, dst, addr))
	}
	return recs, nil
}

func fetchBucket(ctx context.Context, client *http.Client, addr, jobID, shuffleID string, src, dst int) ([]records.Record, error) {
	url := fmt.Sprintf("%s/shuffle/%s/%s/%d/%d", addr, jobID, shuffleID, src, dst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // empty bucket: upstream partition had no keys hashing here
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shuffle fetch %s: status %d", url, resp.StatusCode)
	}
	cr := &countingReader{r: resp.Body}
	recs, err := records.ReadAll(cr)
	metrics.ShuffleBytesFetched.Add(float64(cr.n))
	return recs, err
}

// countingReader tallies bytes read so fetchBucket can report
// ShuffleBytesFetched without buffering the whole response up front.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// newShuffleClient is the HTTP client used for bucket fetches, with a
// generous per-request timeout since buckets can be large.
func newShuffleClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
