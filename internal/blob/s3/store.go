package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

const (
	archiveRoot        = "archive"
	archiveExt         = ".jsonl.gz"
	archiveContentType = "application/gzip"
	dayLayout          = "2006-01-02"

	// Object metadata keys. S3 lower-cases them on the way back.
	metaRows = "rows"
	metaKind = "kind"

	// Archives above one part go up as a multipart upload.
	uploadPartSize = 8 * 1024 * 1024
)

// Store implements domain.ArchiveStore on one bucket. Keys are laid out as
//
//	archive/<kind>/<yyyy-mm-dd>/<run>.jsonl.gz
//
// so every archive run writes a fresh object and a day can hold several.
type Store struct {
	api      *s3.Client
	bucket   string
	uploader *manager.Uploader
}

var _ domain.ArchiveStore = (*Store)(nil)

// NewStore creates a Store on c's bucket.
func NewStore(c *Client) *Store {
	return &Store{
		api:    c.api,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.api, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
		}),
	}
}

// PutArchive gzips jsonl and uploads it under obj.Key with the row count and
// kind attached as metadata.
func (s *Store) PutArchive(ctx context.Context, obj domain.ArchiveObject, jsonl []byte) error {
	body, err := compress(jsonl)
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", obj.Key, err)
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(obj.Key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(archiveContentType),
		Metadata: map[string]string{
			metaRows: strconv.FormatInt(obj.Rows, 10),
			metaKind: obj.Kind,
		},
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", obj.Key, err)
	}
	return nil
}

// StatArchive reads an archive's metadata without fetching the body.
func (s *Store) StatArchive(ctx context.Context, key string) (domain.ArchiveObject, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.ArchiveObject{}, fmt.Errorf("s3blob: stat %s: %w", key, domain.ErrNotFound)
		}
		return domain.ArchiveObject{}, fmt.Errorf("s3blob: stat %s: %w", key, err)
	}

	obj, ok := parseArchiveKey(key)
	if !ok {
		obj = domain.ArchiveObject{Key: key}
	}
	obj.Size = aws.ToInt64(out.ContentLength)
	obj.StoredAt = aws.ToTime(out.LastModified)
	if v, ok := out.Metadata[metaRows]; ok {
		obj.Rows, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.ArchiveObject{}, fmt.Errorf("s3blob: stat %s: bad rows metadata %q", key, v)
		}
	}
	if v := out.Metadata[metaKind]; v != "" {
		obj.Kind = v
	}
	return obj, nil
}

// OpenArchive streams the decompressed JSONL of an archive. The caller
// closes the reader.
func (s *Store) OpenArchive(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: open %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: open %s: %w", key, err)
	}
	zr, err := gzip.NewReader(out.Body)
	if err != nil {
		out.Body.Close()
		return nil, fmt.Errorf("s3blob: open %s: %w", key, err)
	}
	return &gzipBody{Reader: zr, body: out.Body}, nil
}

// ListArchives returns every archive of kind, oldest day first. Rows is
// only known after StatArchive and is left zero here.
func (s *Store) ListArchives(ctx context.Context, kind string) ([]domain.ArchiveObject, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(archiveRoot + "/" + kind + "/"),
	})

	var out []domain.ArchiveObject
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", kind, err)
		}
		for _, o := range page.Contents {
			obj, ok := parseArchiveKey(aws.ToString(o.Key))
			if !ok {
				continue
			}
			obj.Size = aws.ToInt64(o.Size)
			obj.StoredAt = aws.ToTime(o.LastModified)
			out = append(out, obj)
		}
	}
	return out, nil
}

// archiveKey builds the object key for one archive run.
func archiveKey(kind string, day time.Time, run string) string {
	return path.Join(archiveRoot, kind, day.UTC().Format(dayLayout), run+archiveExt)
}

func parseArchiveKey(key string) (domain.ArchiveObject, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != archiveRoot || !strings.HasSuffix(parts[3], archiveExt) {
		return domain.ArchiveObject{}, false
	}
	day, err := time.Parse(dayLayout, parts[2])
	if err != nil {
		return domain.ArchiveObject{}, false
	}
	return domain.ArchiveObject{Key: key, Kind: parts[1], Day: day}, true
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// gzipBody closes both the decompressor and the response body.
type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (g *gzipBody) Close() error {
	zerr := g.Reader.Close()
	if err := g.body.Close(); err != nil {
		return err
	}
	return zerr
}

// isNotFound reports whether err is a missing key. HeadObject has no error
// body, so only the status code tells.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
