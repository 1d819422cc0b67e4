package watsonx

import "time"

type lengthPenalty struct {
	DecayFactor *float64 `json:"decay_factor,omitempty"`
	StartIndex  *int     `json:"start_index,omitempty"`
}

type parameters struct {
	DecodingMethod      string         `json:"decoding_method,omitempty"`
	LengthPenalty       *lengthPenalty `json:"length_penalty,omitempty"`
	MinNewTokens        *int           `json:"min_new_tokens,omitempty"`
	MaxNewTokens        *int           `json:"max_new_tokens,omitempty"`
	RandomSeed          *int           `json:"random_seed,omitempty"`
	StopSequences       []string       `json:"stop_sequences,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	TimeLimit           *int           `json:"time_limit,omitempty"`
	TopP                *float64       `json:"top_p,omitempty"`
	TopK                *int           `json:"top_k,omitempty"`
	RepetitionPenalty   *float64       `json:"repetition_penalty,omitempty"`
	TruncateInputTokens *int           `json:"truncate_input_tokens,omitempty"`
	IncludeStopSequence *bool          `json:"include_stop_sequence,omitempty"`
}

type generationRequest struct {
	ModelID    string      `json:"model_id,omitempty"`
	ProjectID  string      `json:"project_id,omitempty"`
	SpaceID    string      `json:"space_id,omitempty"`
	Input      string      `json:"input"`
	Parameters *parameters `json:"parameters,omitempty"`
}

type generationResponse struct {
	ModelID   string             `json:"model_id"`
	CreatedAt time.Time          `json:"created_at"`
	Results   []generationResult `json:"results"`
}

type generationResult struct {
	GeneratedText       string `json:"generated_text"`
	GeneratedTokenCount int    `json:"generated_token_count"`
	InputTokenCount     int    `json:"input_token_count"`
	StopReason          string `json:"stop_reason"`
}

type embeddingRequest struct {
	ModelID    string               `json:"model_id"`
	ProjectID  string               `json:"project_id,omitempty"`
	SpaceID    string               `json:"space_id,omitempty"`
	Inputs     []string             `json:"inputs"`
	Parameters *embeddingParameters `json:"parameters,omitempty"`
}

type embeddingParameters struct {
	TruncateInputTokens *int `json:"truncate_input_tokens,omitempty"`
}

type embeddingResponse struct {
	ModelID string `json:"model_id"`
	Results []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"results"`
	InputTokenCount int `json:"input_token_count"`
}

type tokenizationRequest struct {
	ModelID   string `json:"model_id"`
	ProjectID string `json:"project_id,omitempty"`
	SpaceID   string `json:"space_id,omitempty"`
	Input     string `json:"input"`
}

type tokenizationResponse struct {
	ModelID string `json:"model_id"`
	Result  struct {
		TokenCount int `json:"token_count"`
	} `json:"result"`
}

// iamToken is the response of the IBM Cloud IAM token endpoint.
type iamToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Expiration   int64  `json:"expiration"`
}
