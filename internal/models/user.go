package models

import (
	"slices"
	"time"
)

// DefaultStatus is the status a freshly registered user starts with.
const DefaultStatus = "I am new!"

type User struct {
	ID           string    `bson:"_id" json:"id"`
	Email        string    `bson:"email" json:"email"`
	Name         string    `bson:"name" json:"name"`
	PasswordHash string    `bson:"passwordHash" json:"passwordHash"`
	Status       string    `bson:"status" json:"status"`
	PostIDs      []string  `bson:"posts" json:"posts"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// AddPost appends a post reference to the user's post list.
func (u *User) AddPost(postID string) {
	u.PostIDs = append(u.PostIDs, postID)
}

// RemovePost drops every occurrence of postID from the user's post list.
func (u *User) RemovePost(postID string) {
	u.PostIDs = slices.DeleteFunc(u.PostIDs, func(id string) bool { return id == postID })
}

// OwnsPost reports whether postID is in the user's post list.
func (u *User) OwnsPost(postID string) bool {
	return slices.Contains(u.PostIDs, postID)
}
