package models

import "time"

type Post struct {
	ID        string    `bson:"_id" json:"id"`
	Title     string    `bson:"title" json:"title"`
	Content   string    `bson:"content" json:"content"`
	ImageURL  string    `bson:"imageUrl" json:"imageUrl"`
	CreatorID string    `bson:"creator" json:"creator"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
