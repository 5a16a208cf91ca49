package domain

// StatusViewer is one viewer record on a status.
type StatusViewer struct {
	ID           string `json:"id"`
	UserID       UserID `json:"user_id"`
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
	ViewedAt     string `json:"viewedAt"`
}

// Status is a single ephemeral status post.
type Status struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	CreatedAt string         `json:"createdAt"`
	ExpiresAt string         `json:"expiresAt"`
	Views     int            `json:"views"`
	Viewed    bool           `json:"viewed"`
	Viewers   []StatusViewer `json:"viewers"`
}

// UserStatuses groups one user's statuses in the status feed.
type UserStatuses struct {
	User     UserRef  `json:"user"`
	Statuses []Status `json:"statuses"`
}
