// Package labels serves cached shipping label renditions from object storage.
package labels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/erp/fulfillment/internal/domain/integration"
	"github.com/erp/fulfillment/internal/infrastructure/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLabelSize caps a label download (5MB)
const maxLabelSize = 5 << 20

const (
	tagPrinted   = "printed"
	tagPrintedAt = "printed-at"
)

// objectAPI is the subset of the S3 client used by the renderer
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// S3LabelRenderer implements integration.LabelRenderer over an S3-compatible
// bucket where the back office stores one rendered label per order under
// {prefix}/{tenant}/{order}.
type S3LabelRenderer struct {
	client objectAPI
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// Option configures an S3LabelRenderer
type Option func(*S3LabelRenderer)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *S3LabelRenderer) { r.logger = logger }
}

// NewS3LabelRenderer creates a renderer from the labels configuration. It
// works with any S3-compatible storage (AWS S3, MinIO, RustFS).
func NewS3LabelRenderer(ctx context.Context, cfg config.LabelsConfig, opts ...Option) (*S3LabelRenderer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("labels bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
				endpoint = "https://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newS3LabelRenderer(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

func newS3LabelRenderer(client objectAPI, bucket, prefix string, opts ...Option) *S3LabelRenderer {
	r := &S3LabelRenderer{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the object key of an order's label
func (r *S3LabelRenderer) Key(tenantID uuid.UUID, orderID string) string {
	return path.Join(r.prefix, tenantID.String(), orderID)
}

// GetCachedLabel downloads the stored rendition of an order's label
func (r *S3LabelRenderer) GetCachedLabel(ctx context.Context, tenantID uuid.UUID, orderID string) (integration.LabelContent, bool, error) {
	if orderID == "" {
		return integration.LabelContent{}, false, errors.New("order id is required")
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.Key(tenantID, orderID)),
	})
	if err != nil {
		if isNotFound(err) {
			return integration.LabelContent{}, false, nil
		}
		return integration.LabelContent{}, false, fmt.Errorf("%w: %v", integration.ErrLabelUnavailable, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(io.LimitReader(out.Body, maxLabelSize))
	if err != nil {
		return integration.LabelContent{}, false, fmt.Errorf("%w: failed to read label: %v", integration.ErrLabelUnavailable, err)
	}

	label := integration.LabelContent{
		OrderID:     orderID,
		Content:     content,
		ContentType: aws.ToString(out.ContentType),
		FetchedAt:   r.now(),
	}
	if out.LastModified != nil {
		label.FetchedAt = *out.LastModified
	}
	if label.ContentType == "" {
		label.ContentType = "application/pdf"
	}
	return label, true, nil
}

// MarkPrinted tags each order's label as printed. Orders without a stored
// label are skipped; other failures are collected and returned together.
func (r *S3LabelRenderer) MarkPrinted(ctx context.Context, tenantID uuid.UUID, orderIDs []string) error {
	printedAt := r.now().UTC().Format(time.RFC3339)
	var errs []error
	for _, orderID := range orderIDs {
		_, err := r.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(r.Key(tenantID, orderID)),
			Tagging: &types.Tagging{TagSet: []types.Tag{
				{Key: aws.String(tagPrinted), Value: aws.String("true")},
				{Key: aws.String(tagPrintedAt), Value: aws.String(printedAt)},
			}},
		})
		if err == nil {
			continue
		}
		if isNotFound(err) {
			r.logger.Warn("no stored label to mark printed", zap.String("order_id", orderID))
			continue
		}
		errs = append(errs, fmt.Errorf("order %s: %w", orderID, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", integration.ErrLabelUnavailable, errors.Join(errs...))
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	// some S3-compatible services only report the code in the message
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

var _ integration.LabelRenderer = (*S3LabelRenderer)(nil)
