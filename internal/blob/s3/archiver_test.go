package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

type memStore struct {
	objects map[string]memObject
	putErr  error
	short   int64 // rows the store loses on every put
}

type memObject struct {
	obj  domain.ArchiveObject
	body []byte
}

func newMemStore() *memStore { return &memStore{objects: map[string]memObject{}} }

func (m *memStore) PutArchive(_ context.Context, obj domain.ArchiveObject, jsonl []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	obj.Rows -= m.short
	obj.Size = int64(len(jsonl))
	obj.StoredAt = time.Now()
	m.objects[obj.Key] = memObject{obj: obj, body: jsonl}
	return nil
}

func (m *memStore) StatArchive(_ context.Context, key string) (domain.ArchiveObject, error) {
	o, ok := m.objects[key]
	if !ok {
		return domain.ArchiveObject{}, domain.ErrNotFound
	}
	return o.obj, nil
}

func (m *memStore) OpenArchive(_ context.Context, key string) (io.ReadCloser, error) {
	o, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o.body)), nil
}

func (m *memStore) ListArchives(_ context.Context, kind string) ([]domain.ArchiveObject, error) {
	var out []domain.ArchiveObject
	for _, o := range m.objects {
		if o.obj.Kind == kind {
			out = append(out, o.obj)
		}
	}
	return out, nil
}

type memSnapshots struct {
	rows []domain.PriceSnapshot
}

func (m *memSnapshots) Insert(_ context.Context, s domain.PriceSnapshot) error {
	m.rows = append(m.rows, s)
	return nil
}

func (m *memSnapshots) ListRecent(context.Context, common.Address, int) ([]domain.PriceSnapshot, error) {
	return nil, errors.New("unused")
}

func (m *memSnapshots) ListBefore(_ context.Context, before time.Time) ([]domain.PriceSnapshot, error) {
	var out []domain.PriceSnapshot
	for _, r := range m.rows {
		if r.Timestamp.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSnapshots) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.PriceSnapshot
	for _, r := range m.rows {
		if !r.Timestamp.Before(before) {
			keep = append(keep, r)
		}
	}
	n := int64(len(m.rows) - len(keep))
	m.rows = keep
	return n, nil
}

type memAudit struct {
	rows []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.rows = append(m.rows, domain.AuditEntry{ID: int64(len(m.rows) + 1), Event: event, Detail: detail, CreatedAt: time.Now()})
	return nil
}

func (m *memAudit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, r := range m.rows {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memAudit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.AuditEntry
	for _, r := range m.rows {
		if !r.CreatedAt.Before(before) {
			keep = append(keep, r)
		}
	}
	n := int64(len(m.rows) - len(keep))
	m.rows = keep
	return n, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var pool = common.HexToAddress("0x445FE580eF8d70FF569aB36e80c647af338db351")

func seqRuns() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func TestArchiveSnapshotsUploadsThenPrunes(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2025, 1, 31, 6, 0, 0, 0, time.UTC)
	store := newMemStore()
	snaps := &memSnapshots{}
	for i, day := range []int{29, 30, 31} {
		vp := new(big.Int).Add(big.NewInt(1e18), big.NewInt(int64(i)))
		snaps.rows = append(snaps.rows, domain.PriceSnapshot{
			Pool: pool, Timestamp: time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC), VirtualPrice: vp,
		})
	}
	audit := &memAudit{}
	a := NewArchiver(store, snaps, audit, discardLogger())
	a.newRun = seqRuns()

	n, err := a.ArchiveSnapshots(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, snaps.rows, 1)

	key := "archive/price_snapshots/2025-01-31/run-1.jsonl.gz"
	rc, err := store.OpenArchive(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	sc := bufio.NewScanner(rc)
	var lines []snapshotRecord
	for sc.Scan() {
		var r snapshotRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "1000000000000000001", lines[1].VirtualPrice)
	assert.Equal(t, pool.Hex(), lines[0].Pool)

	require.Len(t, audit.rows, 1)
	assert.Equal(t, "archive.price_snapshots", audit.rows[0].Event)
	assert.Equal(t, key, audit.rows[0].Detail["key"])
}

func TestArchiveRunsSameDayKeepSeparateObjects(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	audit := &memAudit{}
	a := NewArchiver(store, &memSnapshots{}, audit, discardLogger())
	a.newRun = seqRuns()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	audit.rows = []domain.AuditEntry{{ID: 1, Event: "Harvested", CreatedAt: day.Add(-time.Hour)}}
	_, err := a.ArchiveAudit(ctx, day.Add(time.Hour))
	require.NoError(t, err)
	audit.rows = append(audit.rows, domain.AuditEntry{ID: 9, Event: "Deleveraged", CreatedAt: day.Add(2 * time.Hour)})
	_, err = a.ArchiveAudit(ctx, day.Add(5*time.Hour))
	require.NoError(t, err)

	objs, err := a.Archives(ctx, domain.ArchiveKindAudit)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "archive/audit_log/2025-03-01/run-1.jsonl.gz", objs[0].Key)
	assert.Equal(t, "archive/audit_log/2025-03-01/run-2.jsonl.gz", objs[1].Key)
	assert.EqualValues(t, 1, objs[0].Rows)
	assert.EqualValues(t, 1, objs[1].Rows)
}

func TestArchiveKeepsRowsWhenStoreComesUpShort(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.short = 1
	audit := &memAudit{}
	old := time.Now().Add(-48 * time.Hour)
	audit.rows = []domain.AuditEntry{{ID: 1, Event: "Harvested", CreatedAt: old}}
	a := NewArchiver(store, &memSnapshots{}, audit, discardLogger())

	_, err := a.ArchiveAudit(ctx, time.Now().Add(-24*time.Hour))
	require.ErrorContains(t, err, "stored 0 rows, wrote 1")
	assert.Len(t, audit.rows, 1, "rows survive a short upload")

	store.short = 0
	store.putErr = errors.New("bucket gone")
	_, err = a.ArchiveAudit(ctx, time.Now().Add(-24*time.Hour))
	require.Error(t, err)
	assert.Len(t, audit.rows, 1)
}

func TestArchiveNothingToDo(t *testing.T) {
	store := newMemStore()
	a := NewArchiver(store, &memSnapshots{}, &memAudit{}, discardLogger())
	n, err := a.ArchiveSnapshots(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.objects)
}

func TestArchiveKeyRoundTrip(t *testing.T) {
	day := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	key := archiveKey(domain.ArchiveKindSnapshots, day, "abc")
	assert.Equal(t, "archive/price_snapshots/2025-01-31/abc.jsonl.gz", key)

	obj, ok := parseArchiveKey(key)
	require.True(t, ok)
	assert.Equal(t, domain.ArchiveKindSnapshots, obj.Kind)
	assert.True(t, obj.Day.Equal(day))

	for _, bad := range []string{"archive/audit_log/x.jsonl", "archive/audit_log/2025-13-01/a.jsonl.gz", "other/audit_log/2025-01-01/a.jsonl.gz"} {
		_, ok := parseArchiveKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat(`{"event":"Harvested"}`+"\n", 200))
	out, err := compress(in)
	require.NoError(t, err)
	assert.Less(t, len(out), len(in))

	zr, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", endpointURL("http://minio:9000", true))
	assert.Equal(t, "https://s3.example.com", endpointURL("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
}
