package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"collabboard-server/core"
)

// s3Store keeps board records and snapshots as JSON objects and blobs as
// raw objects:
//
//	boards/<boardID>.json
//	snapshots/<boardID>.json
//	blobs/<key>
//
// Blob URLs are public object URLs, so clients fetch image payloads from
// S3 directly instead of through the server.
type s3Store struct {
	s3Client *s3.Client
	bucket   string
	region   string
}

// NewStore creates a new S3-based store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
		region:   cfg.Region,
	}
}

func boardKey(boardID string) string {
	return "boards/" + boardID + ".json"
}

func snapshotKey(boardID string) string {
	return "snapshots/" + boardID + ".json"
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

func (s *s3Store) CreateBoard(ctx context.Context, board *core.Board) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	if err := s.putObject(ctx, boardKey(board.ID), data, "application/json"); err != nil {
		return fmt.Errorf("failed to create board %s: %w", board.ID, err)
	}
	logrus.WithField("board_id", board.ID).Info("Board created")
	return nil
}

func (s *s3Store) GetBoard(ctx context.Context, boardID string) (*core.Board, error) {
	data, err := s.getObject(ctx, boardKey(boardID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, fmt.Errorf("failed to get board %s: %w", boardID, err)
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("unmarshal board %s: %w", boardID, err)
	}
	return &board, nil
}

func (s *s3Store) ListBoards(ctx context.Context, userID string) ([]*core.Board, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("boards/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}

	boards := make([]*core.Board, 0, len(output.Contents))
	for _, object := range output.Contents {
		data, err := s.getObject(ctx, *object.Key)
		if err != nil {
			logrus.WithField("key", *object.Key).WithError(err).Warn("Failed to get board object, skipping")
			continue
		}
		var board core.Board
		if err := json.Unmarshal(data, &board); err != nil {
			logrus.WithField("key", *object.Key).WithError(err).Warn("Failed to unmarshal board, skipping")
			continue
		}
		if board.IsShared(userID) {
			boards = append(boards, &board)
		}
	}
	return boards, nil
}

func (s *s3Store) SaveSnapshot(ctx context.Context, boardID string, snapshot *core.BoardSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.putObject(ctx, snapshotKey(boardID), data, "application/json"); err != nil {
		return fmt.Errorf("failed to save snapshot for board %s: %w", boardID, err)
	}
	return nil
}

func (s *s3Store) LoadSnapshot(ctx context.Context, boardID string) (*core.BoardSnapshot, error) {
	data, err := s.getObject(ctx, snapshotKey(boardID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBoardNotFound, boardID)
		}
		return nil, fmt.Errorf("failed to load snapshot for board %s: %w", boardID, err)
	}
	var snapshot core.BoardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", boardID, err)
	}
	return &snapshot, nil
}

func (s *s3Store) UpdateCanvasSize(ctx context.Context, boardID string, size core.CanvasSize) error {
	if _, err := s.GetBoard(ctx, boardID); err != nil {
		return err
	}
	snapshot, err := s.LoadSnapshot(ctx, boardID)
	if err != nil {
		snapshot = &core.BoardSnapshot{Shapes: []core.Shape{}}
	}
	snapshot.Canvas = size
	return s.SaveSnapshot(ctx, boardID, snapshot)
}

func (s *s3Store) AddSharedUser(ctx context.Context, boardID, userID string) error {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board.IsShared(userID) {
		return nil
	}
	board.SharedWith = append(board.SharedWith, userID)
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	return s.putObject(ctx, boardKey(boardID), data, "application/json")
}

func (s *s3Store) blobURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/blobs/%s", s.bucket, s.region, key)
}

func (s *s3Store) PutBlob(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := s.putObject(ctx, "blobs/"+key, data, contentType); err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	return s.blobURL(key), nil
}

func (s *s3Store) ResolveBlob(ctx context.Context, key string) (string, error) {
	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String("blobs/" + key),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return "", fmt.Errorf("failed to resolve blob %s: %w", key, err)
	}
	return s.blobURL(key), nil
}

func (s *s3Store) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String("blobs/" + key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", fmt.Errorf("%w: %s", core.ErrBlobNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob data: %w", err)
	}
	contentType := ""
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return data, contentType, nil
}
