package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fpang/gemini-photo-editor/internal/filehandler"
	"github.com/fpang/gemini-photo-editor/internal/s3util"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "PROFILE#"
	skPrefs  = "PREFS"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore keeps preferences as one DynamoDB item per profile
// (PK=PROFILE#{id}, SK=PREFS). Image bytes would exceed the 400 KB item
// limit, so recent-project images and thumbnails live in S3 under
// content-addressed keys and only the keys are stored on the item.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	s3        s3util.ObjectAPI
	bucket    string
}

var _ PreferenceStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table and media bucket.
func NewDynamoStore(client DynamoAPI, tableName string, s3Client s3util.ObjectAPI, bucket string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		s3:        s3Client,
		bucket:    bucket,
	}
}

// --- Internal helpers ---

func profilePK(profileID string) string {
	return pkPrefix + normalizeProfileID(profileID)
}

// putItem marshals a domain object and writes it to DynamoDB with PK and SK.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data any) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// getItem reads a single item and unmarshals it into out.
// Returns false if the item does not exist (out is not modified).
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}

// objectKey returns a content-addressed key so unchanged images are not
// uploaded twice.
func objectKey(profileID, kind string, data []byte, mimeType string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("prefs/%s/%s/%s%s",
		normalizeProfileID(profileID), kind, hex.EncodeToString(sum[:12]), filehandler.ExtensionForMIME(mimeType))
}

// --- PreferenceStore ---

// Load reads the profile item and fetches thumbnails from S3. Full images
// are fetched on demand by RecentImage.
func (s *DynamoStore) Load(ctx context.Context, profileID string) (*Preferences, error) {
	var prefs Preferences
	found, err := s.getItem(ctx, profilePK(profileID), skPrefs, &prefs)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Preferences{}, nil
	}

	for i := range prefs.Recent {
		p := &prefs.Recent[i]
		if p.ThumbnailKey == "" {
			continue
		}
		thumb, err := s3util.GetBytes(ctx, s.s3, s.bucket, p.ThumbnailKey)
		if err != nil {
			// A missing thumbnail should not hide the rest of the record.
			log.Warn().Err(err).Str("key", p.ThumbnailKey).Msg("Failed to load recent project thumbnail")
			continue
		}
		p.Thumbnail = thumb
	}
	return &prefs, nil
}

// Save uploads new images, writes the item and removes objects no longer
// referenced by it.
func (s *DynamoStore) Save(ctx context.Context, profileID string, prefs *Preferences) error {
	var previous Preferences
	if _, err := s.getItem(ctx, profilePK(profileID), skPrefs, &previous); err != nil {
		return err
	}
	existing := make(map[string]bool)
	for _, p := range previous.Recent {
		existing[p.ImageKey] = true
		existing[p.ThumbnailKey] = true
	}

	for i := range prefs.Recent {
		p := &prefs.Recent[i]
		if len(p.Image) > 0 {
			p.ImageKey = objectKey(profileID, "images", p.Image, p.MIMEType)
			if !existing[p.ImageKey] {
				if err := s3util.PutBytes(ctx, s.s3, s.bucket, p.ImageKey, p.MIMEType, p.Image); err != nil {
					return err
				}
			}
		}
		if len(p.Thumbnail) > 0 {
			p.ThumbnailKey = objectKey(profileID, "thumbnails", p.Thumbnail, "image/jpeg")
			if !existing[p.ThumbnailKey] {
				if err := s3util.PutBytes(ctx, s.s3, s.bucket, p.ThumbnailKey, "image/jpeg", p.Thumbnail); err != nil {
					return err
				}
			}
		}
	}

	prefs.UpdatedAt = time.Now().UTC()
	if err := s.putItem(ctx, profilePK(profileID), skPrefs, prefs); err != nil {
		return err
	}

	kept := make(map[string]bool)
	for _, p := range prefs.Recent {
		kept[p.ImageKey] = true
		kept[p.ThumbnailKey] = true
	}
	for key := range existing {
		if key == "" || kept[key] {
			continue
		}
		if err := s3util.DeleteObject(ctx, s.s3, s.bucket, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to delete stale recent project object")
		}
	}

	log.Debug().
		Str("profile", normalizeProfileID(profileID)).
		Int("recent", len(prefs.Recent)).
		Msg("Preferences saved to DynamoDB")
	return nil
}

// RecentImage fetches the named project's full image from S3.
func (s *DynamoStore) RecentImage(ctx context.Context, profileID, name string) (filehandler.Image, error) {
	var prefs Preferences
	found, err := s.getItem(ctx, profilePK(profileID), skPrefs, &prefs)
	if err != nil {
		return filehandler.Image{}, err
	}
	p, ok := prefs.FindRecent(name)
	if !found || !ok || p.ImageKey == "" {
		return filehandler.Image{}, fmt.Errorf("recent project %q: %w", name, ErrNotFound)
	}

	data, err := s3util.GetBytes(ctx, s.s3, s.bucket, p.ImageKey)
	if err != nil {
		return filehandler.Image{}, err
	}
	p.Image = data
	return p.SourceImage(), nil
}
