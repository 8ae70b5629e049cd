package model

import (
	"time"
)

// VideoRecord is one normalized observation of a video from the feed
type VideoRecord struct {
	VideoID             string
	Description         string
	ViewCount           int64
	LikeCount           int64
	CommentCount        int64
	ShareCount          int64
	AuthorUsername      string
	AuthorDisplayName   string
	AuthorFollowerCount int64
	CreatedAt           time.Time
	Region              string
	Hashtags            []string
	IsVerifiedAuthor    bool
	CollectedAt         time.Time
}

// Classification holds the metrics derived from a VideoRecord
type Classification struct {
	ElapsedHours float64
	Velocity     float64
	IsViral      bool
}

// StoredVideo is the persisted row: the latest observation of a video and
// its latest classification
type StoredVideo struct {
	ID                  uint      `gorm:"primaryKey"`
	VideoID             string    `gorm:"uniqueIndex;size:64;not null"`
	Description         string    `gorm:"size:512"`
	ViewCount           int64     `gorm:"index;not null;default:0"`
	LikeCount           int64     `gorm:"not null;default:0"`
	CommentCount        int64     `gorm:"not null;default:0"`
	ShareCount          int64     `gorm:"not null;default:0"`
	AuthorUsername      string    `gorm:"size:128"`
	AuthorDisplayName   string    `gorm:"size:256"`
	AuthorFollowerCount int64     `gorm:"not null;default:0"`
	PostedAt            time.Time `gorm:"not null"`
	Region              string    `gorm:"size:8;index"`
	Hashtags            []string  `gorm:"serializer:json;type:text"`
	IsVerifiedAuthor    bool      `gorm:"not null;default:false"`
	CollectedAt         time.Time `gorm:"not null"`
	ElapsedHours        float64   `gorm:"not null;default:0"`
	Velocity            float64   `gorm:"not null;default:0"`
	IsViral             bool      `gorm:"index;not null;default:false"`
	FirstSeenAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time
}

// TableName returns the table name for StoredVideo
func (StoredVideo) TableName() string {
	return "videos"
}

// NewStoredVideo combines a record with its classification
func NewStoredVideo(rec *VideoRecord, cls Classification) *StoredVideo {
	return &StoredVideo{
		VideoID:             rec.VideoID,
		Description:         rec.Description,
		ViewCount:           rec.ViewCount,
		LikeCount:           rec.LikeCount,
		CommentCount:        rec.CommentCount,
		ShareCount:          rec.ShareCount,
		AuthorUsername:      rec.AuthorUsername,
		AuthorDisplayName:   rec.AuthorDisplayName,
		AuthorFollowerCount: rec.AuthorFollowerCount,
		PostedAt:            rec.CreatedAt,
		Region:              rec.Region,
		Hashtags:            append([]string(nil), rec.Hashtags...),
		IsVerifiedAuthor:    rec.IsVerifiedAuthor,
		CollectedAt:         rec.CollectedAt,
		ElapsedHours:        cls.ElapsedHours,
		Velocity:            cls.Velocity,
		IsViral:             cls.IsViral,
	}
}

// Record returns the observation part of the stored row
func (v *StoredVideo) Record() *VideoRecord {
	return &VideoRecord{
		VideoID:             v.VideoID,
		Description:         v.Description,
		ViewCount:           v.ViewCount,
		LikeCount:           v.LikeCount,
		CommentCount:        v.CommentCount,
		ShareCount:          v.ShareCount,
		AuthorUsername:      v.AuthorUsername,
		AuthorDisplayName:   v.AuthorDisplayName,
		AuthorFollowerCount: v.AuthorFollowerCount,
		CreatedAt:           v.PostedAt,
		Region:              v.Region,
		Hashtags:            append([]string(nil), v.Hashtags...),
		IsVerifiedAuthor:    v.IsVerifiedAuthor,
		CollectedAt:         v.CollectedAt,
	}
}

// Classification returns the classification part of the stored row
func (v *StoredVideo) Classification() Classification {
	return Classification{
		ElapsedHours: v.ElapsedHours,
		Velocity:     v.Velocity,
		IsViral:      v.IsViral,
	}
}

// URL returns the public link for the video
func (v *StoredVideo) URL() string {
	if v.AuthorUsername == "" {
		return "https://www.tiktok.com/video/" + v.VideoID
	}
	return "https://www.tiktok.com/@" + v.AuthorUsername + "/video/" + v.VideoID
}
