package domain

type Profile struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	DisplayName string            `json:"display_name"`
	PhotoURL    string            `json:"photo_url,omitempty"`
	Company     string            `json:"company,omitempty"`
	Title       string            `json:"title,omitempty"`
	Bio         string            `json:"bio,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Website     string            `json:"website,omitempty"`
	Social      map[string]string `json:"social,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
}

const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
)

type ContactRequest struct {
	ID          string  `json:"id"`
	FromID      string  `json:"from_id"`
	ToID        string  `json:"to_id"`
	Status      string  `json:"status" enum:"pending,accepted,declined"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	RespondedAt *string `json:"responded_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
