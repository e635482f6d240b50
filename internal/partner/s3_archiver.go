package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"donation-core/pkg/logger"
)

// ObjectPutter s3.Client 的子集，测试里替换
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3StatementArchiver 把结算对账单 (JSON) 归档到 S3，并把位置写回 Batch.StatementURI
// 对象 key 只取决于机构和批次号，重试时覆盖同一个对象
type S3StatementArchiver struct {
	client ObjectPutter
	bucket string
}

func NewS3StatementArchiver(client ObjectPutter, bucket string) *S3StatementArchiver {
	return &S3StatementArchiver{client: client, bucket: bucket}
}

// NewS3StatementArchiverFromEnv 使用默认凭证链 (环境变量 / 实例角色)
func NewS3StatementArchiverFromEnv(ctx context.Context, bucket, region string) (*S3StatementArchiver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3StatementArchiver(s3.NewFromConfig(cfg), bucket), nil
}

func StatementKey(batch *Batch) string {
	return fmt.Sprintf("settlements/%s/%s.json", batch.NgoID, batch.Ref)
}

func (a *S3StatementArchiver) Transfer(ctx context.Context, batch *Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	key := StatementKey(batch)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive settlement statement: %w", err)
	}

	batch.StatementURI = fmt.Sprintf("s3://%s/%s", a.bucket, key)
	logger.Info("结算对账单已归档", zap.String("batch_ref", batch.Ref), zap.String("uri", batch.StatementURI))
	return nil
}
