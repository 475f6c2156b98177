package models

import "time"

// User is the local account mapped from a Clerk subject. Username holds the Clerk user ID.
type User struct {
	ID         string     `bson:"_id,omitempty" json:"id"`
	Username   string     `bson:"username" json:"username"`
	Email      string     `bson:"email" json:"email"`
	FirstName  string     `bson:"firstName" json:"firstName"`
	LastName   string     `bson:"lastName" json:"lastName"`
	LastLogin  *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	DateJoined time.Time  `bson:"dateJoined" json:"dateJoined"`
}

// Profile is created once alongside its User.
type Profile struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// UserActivity is created once alongside its User, after the Profile.
type UserActivity struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
