package fal

// Wire types for the fal.ai queue API. Submission returns a request id
// immediately; results are fetched with a separate call once the queue
// reports the request completed.

type submitRequest struct {
	Prompt          string `json:"prompt,omitempty"`
	NegativePrompt  string `json:"negative_prompt,omitempty"`
	ImageURL        string `json:"image_url,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
}

type submitResponse struct {
	RequestID     string `json:"request_id"`
	QueuePosition *int   `json:"queue_position,omitempty"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition *int   `json:"queue_position,omitempty"`
	Error         string `json:"error,omitempty"`
}

type resultResponse struct {
	Video  *mediaFile  `json:"video,omitempty"`
	Videos []mediaFile `json:"videos,omitempty"`
}

type mediaFile struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}
