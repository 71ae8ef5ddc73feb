// Package s3store implements h5p.ContentStorage on an S3 bucket. Content id
// {id} lives under {prefix}/{id}/ with h5p.json, content.json and files.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/pathutil"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

const (
	metadataFile   = "h5p.json"
	parametersFile = "content.json"
)

// API is the subset of *s3.Client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	s3.ListObjectsV2APIClient
}

type Options struct {
	Logger log.Logger
	Bucket string
	Prefix string

	// Client overrides the client built from AWSConfig.
	Client API
	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Store struct {
	client API
	bucket string
	prefix string
	logger log.Logger
}

var _ h5p.ContentStorage = (*Store)(nil)

func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("s3store: Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	client := opts.Client
	if client == nil {
		var awsCfg aws.Config
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			var err error
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = s3.NewFromConfig(awsCfg)
	}
	return &Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: opts.Logger,
	}, nil
}

func (s *Store) base(id h5p.ContentID) (string, error) {
	v := string(id)
	if v == "" || strings.ContainsAny(v, "/\\") || v == "." || v == ".." {
		return "", xerrors.Invalidf("invalid content id %q", id)
	}
	if s.prefix == "" {
		return v + "/", nil
	}
	return s.prefix + "/" + v + "/", nil
}

func (s *Store) key(id h5p.ContentID, name string) (string, error) {
	base, err := s.base(id)
	if err != nil {
		return "", err
	}
	return base + name, nil
}

func (s *Store) fileKey(id h5p.ContentID, name string) (string, error) {
	clean, ok := pathutil.CleanRel(name)
	if !ok {
		return "", xerrors.Invalidf("invalid file name %q", name)
	}
	name = clean
	if name == metadataFile || name == parametersFile {
		return "", xerrors.Invalidf("reserved file name %q", name)
	}
	return s.key(id, name)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *Store) wrap(err error, format string, args ...any) error {
	if isNotFound(err) {
		return xerrors.WithKind(xerrors.Wrapf(err, format, args...), xerrors.KindNotFound)
	}
	return xerrors.Wrapf(err, format, args...)
}

func (s *Store) put(ctx context.Context, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", s.bucket, key)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap(err, "get s3://%s/%s", s.bucket, key)
	}
	return out.Body, nil
}

func (s *Store) getAll(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read s3://%s/%s", s.bucket, key)
	}
	return b, nil
}

func (s *Store) CreateOrUpdate(ctx context.Context, id h5p.ContentID, meta h5p.ContentMetadata, params json.RawMessage, user h5p.User) (h5p.ContentID, error) {
	if id == "" {
		id = h5p.ContentID(uuid.NewString())
	} else if _, err := s.Metadata(ctx, id); err != nil {
		return "", err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", xerrors.Wrap(err, "encode h5p.json")
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	pk, err := s.key(id, parametersFile)
	if err != nil {
		return "", err
	}
	if err := s.put(ctx, pk, bytes.NewReader(params)); err != nil {
		return "", err
	}
	// h5p.json goes last; its presence marks the item as complete
	mk, _ := s.key(id, metadataFile)
	if err := s.put(ctx, mk, bytes.NewReader(metaJSON)); err != nil {
		return "", err
	}
	s.logger.Debug(ctx, "stored content in s3", "bucket", s.bucket, "content_id", string(id))
	return id, nil
}

func (s *Store) Metadata(ctx context.Context, id h5p.ContentID) (h5p.ContentMetadata, error) {
	k, err := s.key(id, metadataFile)
	if err != nil {
		return h5p.ContentMetadata{}, err
	}
	b, err := s.getAll(ctx, k)
	if err != nil {
		return h5p.ContentMetadata{}, err
	}
	var meta h5p.ContentMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return h5p.ContentMetadata{}, xerrors.Wrapf(err, "decode h5p.json of %s", id)
	}
	return meta, nil
}

func (s *Store) Parameters(ctx context.Context, id h5p.ContentID) (json.RawMessage, error) {
	k, err := s.key(id, parametersFile)
	if err != nil {
		return nil, err
	}
	return s.getAll(ctx, k)
}

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, xerrors.Wrapf(err, "list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, id h5p.ContentID) error {
	if _, err := s.Metadata(ctx, id); err != nil {
		return err
	}
	base, _ := s.base(id)
	keys, err := s.listKeys(ctx, base)
	if err != nil {
		return err
	}
	// DeleteObjects takes at most 1000 keys per call
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		objs := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objs = append(objs, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return xerrors.Wrapf(err, "delete content %s from s3", id)
		}
		if len(out.Errors) > 0 {
			return xerrors.Newf("delete content %s from s3: %d objects failed (%s)",
				id, len(out.Errors), aws.ToString(out.Errors[0].Message))
		}
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]h5p.ContentID, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	keys, err := s.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var ids []h5p.ContentID
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		id, file, ok := strings.Cut(rest, "/")
		if ok && file == metadataFile {
			ids = append(ids, h5p.ContentID(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) AddFile(ctx context.Context, id h5p.ContentID, name string, r io.Reader) error {
	if _, err := s.Metadata(ctx, id); err != nil {
		return err
	}
	k, err := s.fileKey(id, name)
	if err != nil {
		return err
	}
	// the SDK needs a seekable body to sign the payload
	b, err := io.ReadAll(r)
	if err != nil {
		return xerrors.Wrapf(err, "read upload %s", name)
	}
	return s.put(ctx, k, bytes.NewReader(b))
}

func (s *Store) File(ctx context.Context, id h5p.ContentID, name string) (io.ReadCloser, error) {
	k, err := s.fileKey(id, name)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, k)
}

func (s *Store) ListFiles(ctx context.Context, id h5p.ContentID) ([]string, error) {
	base, err := s.base(id)
	if err != nil {
		return nil, err
	}
	keys, err := s.listKeys(ctx, base)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		name := strings.TrimPrefix(k, base)
		if name == metadataFile || name == parametersFile || name == "" {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}
