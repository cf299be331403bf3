package model

import (
	"time"
)

// PostMetric is one scraped historical observation for a managed account.
// Numeric columns are nullable: the scraper does not always capture every
// field, and training excludes rows with a null in any used column rather
// than imputing values.
type PostMetric struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	AccountHandle  string    `json:"account_handle" gorm:"type:varchar(100);index;not null"`
	PostedAt       time.Time `json:"posted_at" gorm:"index;not null"`
	Likes          *float64  `json:"likes"`
	Retweets       *float64  `json:"retweets"`
	Replies        *float64  `json:"replies"`
	Views          *float64  `json:"views"`
	Saves          *float64  `json:"saves"`
	Followers      *float64  `json:"followers"`
	EngagementRate *float64  `json:"engagement_rate"`
	CreatedAt      time.Time `json:"created_at"`
}

// TargetValue returns the named target column for this row, or nil when
// the column is null or unknown.
func (p *PostMetric) TargetValue(name string) *float64 {
	switch name {
	case "likes":
		return p.Likes
	case "retweets":
		return p.Retweets
	case "replies":
		return p.Replies
	case "views":
		return p.Views
	case "saves":
		return p.Saves
	case "followers":
		return p.Followers
	case "engagement_rate":
		return p.EngagementRate
	default:
		return nil
	}
}
