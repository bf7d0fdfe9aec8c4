package web

// StartContextRequest starts either a call chain or a standalone situation.
type StartContextRequest struct {
	ChainID            string         `json:"chain_id"             validate:"required_without=SituationID,excluded_with=SituationID"`
	SituationID        string         `json:"situation_id"         validate:"required_without=ChainID"`
	Values             map[string]any `json:"values"`
	ParentSubscriberID string         `json:"parent_subscriber_id"`
}

// ReplyRequest carries the asynchronous reply values merged into the context before it resumes.
type ReplyRequest struct {
	Values map[string]any `json:"values" validate:"required"`
}

type TerminateRequest struct {
	Reason string `json:"reason" validate:"required,min=1"`
}
