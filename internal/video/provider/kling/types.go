package kling

// Wire types for the Kling open API. Every response wraps its payload
// in a code/message envelope; code 0 means success.

type createRequest struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	StaticMask     string `json:"static_mask,omitempty"`
	Mode           string `json:"mode"`
	Duration       string `json:"duration"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
}

type apiResponse struct {
	Code      int      `json:"code"`
	Message   string   `json:"message"`
	RequestID string   `json:"request_id"`
	Data      taskData `json:"data"`
}

type taskData struct {
	TaskID        string      `json:"task_id"`
	TaskStatus    string      `json:"task_status"`
	TaskStatusMsg string      `json:"task_status_msg"`
	TaskResult    *taskResult `json:"task_result,omitempty"`
}

type taskResult struct {
	Videos []videoResult `json:"videos"`
}

type videoResult struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Duration string `json:"duration"`
}
