package models

// These structs define the JSON payloads exchanged with clients and between
// the pipeline and its own visualization endpoint.

// UploadResponse is returned as soon as an upload has been accepted.
type UploadResponse struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	OriginalName string       `json:"originalName"`
	Category     FileCategory `json:"category"`
	SourceLink   string       `json:"sourceLink"`
	Status       Status       `json:"status"`
}

// StatusResponse is the output of the status poll.
type StatusResponse struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// VisualizeRequest is the input for the scene visualization endpoint.
type VisualizeRequest struct {
	Text string `json:"text"`
}

// VisualizeResponse is the output of the scene visualization endpoint.
type VisualizeResponse struct {
	Scenes           []Scene `json:"scenes"`
	Message          string  `json:"message"`
	TotalScenes      int     `json:"totalScenes"`
	SuccessfulScenes int     `json:"successfulScenes"`
	FullStory        string  `json:"fullStory"`
}

// ErrorResponse is the JSON body written alongside non-2xx statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}
